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

package config_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teacurran/village-homepage/pkg/config"
)

var _ = Describe("Config", func() {
	var dir string
	var path string

	write := func(contents string) {
		Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "village.toml")
	})

	Context("Load", func() {
		It("should merge the file over defaults", func() {
			write(`
base_url = "https://homepage.example.org"

[email]
from_address = "robot@example.org"
`)
			c, err := config.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.BaseURL).To(Equal("https://homepage.example.org"))
			Expect(c.Email.FromAddress).To(Equal("robot@example.org"))
			Expect(c.RelayDomain).To(Equal(config.Default().RelayDomain))
			Expect(c.Screenshot.ViewportWidth).To(Equal(1280))
		})
		It("should reject unparsable files", func() {
			write(`base_url = `)
			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
		})
		It("should reject invalid values", func() {
			write(`
[screenshot]
viewport_width = -1
`)
			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
		})
		It("should fail on a missing file", func() {
			_, err := config.Load(filepath.Join(dir, "absent.toml"))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Store", func() {
		var store *config.Store
		var cancel context.CancelFunc
		var done chan struct{}

		BeforeEach(func() {
			write(`base_url = "https://one.example.org"`)
			var err error
			store, err = config.NewStore(path)
			Expect(err).ToNot(HaveOccurred())

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				defer GinkgoRecover()
				Expect(store.Watch(ctx)).To(Succeed())
			}()
		})
		AfterEach(func() {
			cancel()
			Eventually(done).Should(BeClosed())
		})

		It("should swap in a rewritten file", func() {
			Expect(store.Snapshot().BaseURL).To(Equal("https://one.example.org"))
			write(`base_url = "https://two.example.org"`)
			Eventually(func() string {
				return store.Snapshot().BaseURL
			}, 5*time.Second, 20*time.Millisecond).Should(Equal("https://two.example.org"))
		})

		It("should keep the last good snapshot across a bad write", func() {
			write(`base_url = "https://two.example.org"`)
			Eventually(func() string {
				return store.Snapshot().BaseURL
			}, 5*time.Second, 20*time.Millisecond).Should(Equal("https://two.example.org"))

			write(`base_url = `)
			Consistently(func() string {
				return store.Snapshot().BaseURL
			}, 300*time.Millisecond, 20*time.Millisecond).Should(Equal("https://two.example.org"))
		})

		It("should notify subscribers with the new snapshot", func() {
			updates := make(chan string, 4)
			store.OnChange(func(c *config.Config) { updates <- c.BaseURL })
			write(`base_url = "https://two.example.org"`)
			Eventually(updates, 5*time.Second).Should(Receive(Equal("https://two.example.org")))
		})

		It("should not notify subscribers when the contents are unchanged", func() {
			updates := make(chan string, 4)
			store.OnChange(func(c *config.Config) { updates <- c.BaseURL })
			write(`base_url = "https://one.example.org"`)
			Consistently(updates, 300*time.Millisecond, 20*time.Millisecond).ShouldNot(Receive())
		})
	})
})
