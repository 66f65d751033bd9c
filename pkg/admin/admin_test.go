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

package admin_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/teacurran/village-homepage/pkg/admin"
	"github.com/teacurran/village-homepage/pkg/fake"
	"github.com/teacurran/village-homepage/pkg/flags"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/ratelimit"
)

var _ = Describe("Service", func() {
	var ctx context.Context
	var flagStore *fake.FlagStore
	var rules *fake.RuleWriter
	var invalidator *fake.RuleInvalidator
	var karmaStore *fake.KarmaStore
	var userTx *fake.UsersTransactor
	var audits *fake.AdminAuditSink
	var q *queue.InMemory
	var clk *testingclock.FakeClock
	var service *admin.Service

	superAdmin := admin.Actor{ID: "root@village.test", Role: admin.RoleSuperAdmin}
	ops := admin.Actor{ID: "ops@village.test", Role: admin.RoleOps}
	support := admin.Actor{ID: "support@village.test", Role: admin.RoleSupport}
	readOnly := admin.Actor{ID: "intern@village.test", Role: admin.RoleReadOnly}

	BeforeEach(func() {
		ctx = context.Background()
		flagStore = fake.NewFlagStore()
		rules = fake.NewRuleWriter()
		invalidator = &fake.RuleInvalidator{}
		karmaStore = fake.NewKarmaStore()
		userTx = fake.NewUsersTransactor(karmaStore)
		audits = &fake.AdminAuditSink{}
		clk = testingclock.NewFakeClock(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
		q = queue.NewInMemory(clk, nil)
		service = admin.NewService(
			flags.NewService(flagStore, clk), rules, invalidator,
			userTx, karma.NewService(clk), q, audits, clk)
	})

	DescribeTable("permission matrix",
		func(role admin.Role, permission admin.Permission, expected bool) {
			Expect(role.Can(permission)).To(Equal(expected))
		},
		Entry("super admin adjusts karma", admin.RoleSuperAdmin, admin.PermissionKarmaAdjust, true),
		Entry("super admin mutates flags", admin.RoleSuperAdmin, admin.PermissionFlagMutate, true),
		Entry("ops mutates flags", admin.RoleOps, admin.PermissionFlagMutate, true),
		Entry("ops revives jobs", admin.RoleOps, admin.PermissionJobRevive, true),
		Entry("ops cannot adjust karma", admin.RoleOps, admin.PermissionKarmaAdjust, false),
		Entry("support adjusts karma", admin.RoleSupport, admin.PermissionKarmaAdjust, true),
		Entry("support cannot mutate flags", admin.RoleSupport, admin.PermissionFlagMutate, false),
		Entry("read only mutates nothing", admin.RoleReadOnly, admin.PermissionJobRevive, false),
		Entry("unknown role mutates nothing", admin.Role("janitor"), admin.PermissionFlagMutate, false),
	)

	Context("flags", func() {
		It("should create flags and record the audit entry", func() {
			Expect(service.CreateFlag(ctx, ops, flags.Flag{Key: "new-homepage", RolloutPercent: 5})).To(Succeed())
			Expect(flagStore.Flags).To(HaveKey("new-homepage"))

			recorded := audits.Recorded()
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].ActorID).To(Equal("ops@village.test"))
			Expect(recorded[0].Action).To(Equal("flag_create"))
			Expect(recorded[0].Target).To(Equal("new-homepage"))
			Expect(recorded[0].At).To(Equal(clk.Now()))
		})
		It("should refuse flag mutations from support", func() {
			err := service.SetFlagEnabled(ctx, support, "new-homepage", true)
			Expect(admin.IsForbidden(err)).To(BeTrue())
			Expect(audits.Recorded()).To(BeEmpty())
		})
		It("should not audit a failed mutation", func() {
			err := service.SetFlagRollout(ctx, ops, "missing-flag", 50)
			Expect(err).To(HaveOccurred())
			Expect(audits.Recorded()).To(BeEmpty())
		})
	})

	Context("rate rules", func() {
		rule := ratelimit.Rule{Action: "submit_site", Tier: ratelimit.TierLoggedIn, Limit: 10, Window: time.Hour}

		It("should save the rule and invalidate the limiter cache", func() {
			Expect(service.PutRateRule(ctx, ops, rule)).To(Succeed())
			Expect(rules.Rules).To(HaveLen(1))
			Expect(invalidator.Invalidations()).To(Equal(1))
		})
		It("should reject malformed rules before the permission gate runs", func() {
			err := service.PutRateRule(ctx, readOnly, ratelimit.Rule{Action: "submit_site"})
			Expect(admin.IsForbidden(err)).To(BeFalse())
			Expect(err).To(HaveOccurred())
		})
		It("should delete rules and invalidate again", func() {
			Expect(service.PutRateRule(ctx, superAdmin, rule)).To(Succeed())
			Expect(service.DeleteRateRule(ctx, superAdmin, "submit_site", ratelimit.TierLoggedIn)).To(Succeed())
			Expect(rules.Rules).To(BeEmpty())
			Expect(invalidator.Invalidations()).To(Equal(2))
		})
		It("should refuse rule mutations from read only", func() {
			Expect(admin.IsForbidden(service.PutRateRule(ctx, readOnly, rule))).To(BeTrue())
		})
	})

	Context("karma", func() {
		BeforeEach(func() {
			karmaStore.Seed(karma.User{ID: "user-1", Karma: 4})
		})

		It("should apply manual deltas through the karma engine", func() {
			Expect(service.AdjustKarma(ctx, support, "user-1", 3, "contest winner")).To(Succeed())
			Expect(karmaStore.Users["user-1"].Karma).To(Equal(7))
			Expect(userTx.Calls).To(Equal(1))

			recorded := audits.Recorded()
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].Action).To(Equal("karma_adjust"))
			Expect(recorded[0].Detail).To(ContainSubstring("contest winner"))
		})
		It("should leave karma untouched when the transaction fails", func() {
			userTx.NextErr = context.DeadlineExceeded
			err := service.AdjustKarma(ctx, support, "user-1", 3, "contest winner")
			Expect(err).To(HaveOccurred())
			Expect(karmaStore.Users["user-1"].Karma).To(Equal(4))
			Expect(audits.Recorded()).To(BeEmpty())
		})
		It("should refuse karma adjustments from ops", func() {
			Expect(admin.IsForbidden(service.AdjustKarma(ctx, ops, "user-1", 3, ""))).To(BeTrue())
			Expect(karmaStore.Users["user-1"].Karma).To(Equal(4))
		})
	})

	Context("dead letter", func() {
		deadJob := func() string {
			id, err := q.Enqueue(ctx, queue.TypeEmailSend, nil, queue.WithMaxAttempts(1))
			Expect(err).ToNot(HaveOccurred())
			jobs, err := q.Claim(ctx, queue.FamilyDefault, "worker-1", time.Minute, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(q.Fail(ctx, id, "worker-1", "boom", false)).To(Succeed())
			return id
		}

		It("should revive dead jobs with the actor on the audit trail", func() {
			id := deadJob()
			Expect(service.ReviveJob(ctx, ops, id)).To(Succeed())
			job, err := q.Get(ctx, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(job.Status).To(Equal(queue.StatusPending))

			recorded := audits.Recorded()
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].Target).To(Equal(id))
		})
		It("should refuse revival from support", func() {
			id := deadJob()
			Expect(admin.IsForbidden(service.ReviveJob(ctx, support, id))).To(BeTrue())
		})
	})

	It("should surface audit sink failures", func() {
		audits.RecordErr = context.DeadlineExceeded
		err := service.CreateFlag(ctx, superAdmin, flags.Flag{Key: "new-homepage"})
		Expect(err).To(HaveOccurred())
	})
})
