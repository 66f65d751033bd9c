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

package admin

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/ids"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// SitemapHandler rebuilds the public sitemap from the approved directory and
// writes it to the object store under a stable key.
type SitemapHandler struct {
	sites   directory.Store
	objects gateways.ObjectStore
	baseURL string
}

func NewSitemapHandler(sites directory.Store, objects gateways.ObjectStore, baseURL string) *SitemapHandler {
	return &SitemapHandler{sites: sites, objects: objects, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (h *SitemapHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeSitemapGenerate,
		Family:      queue.FamilyBulk,
		MaxDuration: 5 * time.Minute,
		MaxAttempts: 3,
	}
}

func (h *SitemapHandler) Validate(json.RawMessage) error { return nil }

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapSet struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

func (h *SitemapHandler) Run(ctx context.Context, _ json.RawMessage) error {
	sites, err := h.sites.ListApproved(ctx)
	if err != nil {
		return fmt.Errorf("listing approved sites, %w", err)
	}
	set := sitemapSet{Xmlns: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	set.URLs = append(set.URLs, sitemapURL{Loc: h.baseURL + "/"})
	for _, site := range sites {
		set.URLs = append(set.URLs, sitemapURL{Loc: fmt.Sprintf("%s/directory/%s", h.baseURL, site.ID)})
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("rendering sitemap, %w", err)
	}
	payload := xml.Header + string(body)
	url, err := h.objects.Put(ctx, "sitemap.xml", "application/xml", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("uploading sitemap, %w", err)
	}
	logging.FromContext(ctx).With("url", url, "entries", len(set.URLs)).Debugf("sitemap regenerated")
	return nil
}

// GDPRSource collects everything stored about one user as a single JSON
// document.
type GDPRSource interface {
	ExportUser(ctx context.Context, userID string) (json.RawMessage, error)
}

// GDPRExportHandler materializes a user's data export into the object store.
// Delivery of the download link is a separate email job enqueued by the
// requesting surface.
type GDPRExportHandler struct {
	source  GDPRSource
	objects gateways.ObjectStore
	clock   clock.PassiveClock
}

func NewGDPRExportHandler(source GDPRSource, objects gateways.ObjectStore, clk clock.PassiveClock) *GDPRExportHandler {
	return &GDPRExportHandler{source: source, objects: objects, clock: clk}
}

func (h *GDPRExportHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeGDPRExport,
		Family:      queue.FamilyBulk,
		MaxDuration: 10 * time.Minute,
		MaxAttempts: 3,
	}
}

type gdprPayload struct {
	UserID string `json:"user_id"`
}

func (h *GDPRExportHandler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, func(p gdprPayload) error {
		if p.UserID == "" {
			return fmt.Errorf("user_id is required")
		}
		return nil
	})
	return err
}

func (h *GDPRExportHandler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload[gdprPayload](payload, nil)
	if err != nil {
		return err
	}
	export, err := h.source.ExportUser(ctx, bound.UserID)
	if err != nil {
		return fmt.Errorf("collecting export for user %q, %w", bound.UserID, err)
	}
	key := fmt.Sprintf("exports/%s/%s.json", bound.UserID, ids.NewULID(h.clock.Now()))
	url, err := h.objects.Put(ctx, key, "application/json", strings.NewReader(string(export)))
	if err != nil {
		return fmt.Errorf("uploading export for user %q, %w", bound.UserID, err)
	}
	logging.FromContext(ctx).With("user", bound.UserID, "url", url).Debugf("export materialized")
	return nil
}
