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

package scheduler

import (
	"time"

	"github.com/teacurran/village-homepage/pkg/queue"
)

// marketHours reports whether t falls within NYSE trading hours, evaluated in
// Eastern time. Weekend and holiday closures beyond weekends are handled by
// the stock handler itself.
func marketHours(t time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return true
	}
	local := t.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// CanonicalEntries is the standing schedule set. Per-source RSS cadence and
// other tunables ride in the payload; the cron specs here are the coarsest
// firing rate.
func CanonicalEntries() []Entry {
	return []Entry{
		{Spec: "*/15 * * * *", Type: queue.TypeRSSRefresh, Family: queue.FamilyDefault},
		{Spec: "0 * * * *", Type: queue.TypeWeatherRefresh, Family: queue.FamilyDefault},
		{Spec: "*/5 * * * *", Type: queue.TypeStockRefresh, Family: queue.FamilyDefault,
			Payload: func(now time.Time) (any, bool) {
				return map[string]string{}, marketHours(now)
			}},
		{Spec: "*/30 * * * *", Type: queue.TypeSocialRefresh, Family: queue.FamilyLow},
		{Spec: "10 4 * * *", Type: queue.TypeListingExpiration, Family: queue.FamilyBulk},
		{Spec: "20 4 * * *", Type: queue.TypeListingReminder, Family: queue.FamilyBulk},
		{Spec: "0 3 * * 0", Type: queue.TypeLinkHealthCheck, Family: queue.FamilyBulk},
		{Spec: "0 * * * *", Type: queue.TypeRankRecalculation, Family: queue.FamilyLow},
		{Spec: "* * * * *", Type: queue.TypeInboundEmailPoll, Family: queue.FamilyHigh},
		{Spec: "15 2 * * *", Type: queue.TypeSitemapGenerate, Family: queue.FamilyBulk},
		{Spec: "45 2 * * *", Type: queue.TypeEvaluationRetention, Family: queue.FamilyBulk},
	}
}
