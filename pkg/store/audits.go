/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"fmt"

	"github.com/teacurran/village-homepage/pkg/admin"
)

// AdminAuditStore implements admin.AuditSink.
type AdminAuditStore struct {
	db querier
}

func (s *AdminAuditStore) RecordAdminAction(ctx context.Context, entry admin.AuditEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO admin_audits (actor_id, role, action, target, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ActorID, entry.Role, entry.Action, entry.Target, entry.Detail, entry.At)
	if err != nil {
		return fmt.Errorf("recording admin audit, %w", err)
	}
	return nil
}
