/*
Copyright 2025.

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

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	platform "github.com/chazu/modport/cue"
	"github.com/chazu/modport/internal/config"
	"github.com/chazu/modport/pkg/cuehost"
	"github.com/chazu/modport/pkg/luahost"
	"github.com/chazu/modport/pkg/moduleloader"
)

var _ = Describe("Runner", func() {
	var (
		ctx context.Context
		cfg config.Config
		out *gbytes.Buffer
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.Defaults()
		out = gbytes.NewBuffer()

		var err error
		dir, err = filepath.Abs(filepath.Join("testdata", "lua"))
		Expect(err).NotTo(HaveOccurred())
	})

	luaRunner := func() *Runner {
		return New(cfg, out, WithGetwd(func() (string, error) { return dir, nil }))
	}

	Context("Run", func() {
		It("should print the exports of a Lua entry", func() {
			Expect(luaRunner().Run(ctx, "main.lua")).To(Succeed())
			Eventually(out).Should(gbytes.Say(`main\.lua table\{a, b, shared\} \(4 modules\)`))
		})

		It("should print the fields of a CUE entry", func() {
			r := New(cfg, out,
				WithSourceReader(moduleloader.FSReader{FS: platform.PlatformFS}),
				WithGetwd(func() (string, error) { return "/" + platform.PlatformDir, nil }),
			)

			Expect(r.Run(ctx, platform.WebserviceEntry)).To(Succeed())
			Eventually(out).Should(gbytes.Say(`webservice\.cue struct\{name, replicas, image, labels\} \(3 modules\)`))
		})

		It("should report a missing dependency", func() {
			err := luaRunner().Run(ctx, "broken/missing.lua")
			Expect(err).To(MatchError(ContainSubstring("Module file not found")))
		})

		It("should report a missing entry as not found in strict mode", func() {
			cfg.StrictNotFound = true
			err := luaRunner().Run(ctx, "absent.lua")
			Expect(err).To(HaveOccurred())
			Expect(moduleloader.KindOf(err)).To(Equal(moduleloader.KindNotFound))
		})
	})

	Context("Check", func() {
		It("should report every entry in order", func() {
			cfg.MaxConcurrency = 2
			err := luaRunner().Check(ctx, []string{"main.lua", "broken/syntax.lua", "broken/missing.lua", "a.lua"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("broken/syntax.lua"))
			Expect(err.Error()).To(ContainSubstring("broken/missing.lua"))

			Expect(out).To(gbytes.Say(`ok   main\.lua \(4 modules\)`))
			Expect(out).To(gbytes.Say(`FAIL broken/syntax\.lua: `))
			Expect(out).To(gbytes.Say(`FAIL broken/missing\.lua: .*Module file not found`))
			Expect(out).To(gbytes.Say(`ok   a\.lua \(2 modules\)`))
		})

		It("should succeed when every entry loads", func() {
			cfg.MaxConcurrency = 1
			Expect(luaRunner().Check(ctx, []string{"b.lua", "lib/c.lua"})).To(Succeed())
			Expect(out).To(gbytes.Say(`ok   b\.lua \(2 modules\)`))
			Expect(out).To(gbytes.Say(`ok   lib/c\.lua \(1 modules\)`))
		})
	})

	Context("Graph", func() {
		It("should list dependencies before their importers", func() {
			Expect(luaRunner().Graph(ctx, "main.lua")).To(Succeed())

			Expect(out).To(gbytes.Say(`[0-9a-f]{16}\s+\d+ \S*lib/c\.lua\n`))
			Expect(out).To(gbytes.Say(`[0-9a-f]{16}\s+\d+ \S*/a\.lua\n`))
			Expect(out).To(gbytes.Say(`[0-9a-f]{16}\s+\d+ \S*/b\.lua\n`))
			Expect(out).To(gbytes.Say(`[0-9a-f]{16}\s+\d+ \S*/main\.lua\n`))
		})

		It("should fail when the entry does not load", func() {
			Expect(luaRunner().Graph(ctx, "broken/syntax.lua")).NotTo(Succeed())
		})
	})

	Context("failedDirs", func() {
		It("should resolve a nested syntax error against its importer", func() {
			r := luaRunner()
			err := fmt.Errorf("failed to import main.lua: %w", &luahost.EvalError{
				Path:    "/proj/main.lua",
				Message: "boom",
				Err:     &luahost.SyntaxError{ResourceName: "./lib/dep.lua", Message: "boom"},
			})
			Expect(r.failedDirs(err, "/proj")).To(ConsistOf("/proj", "/proj/lib"))
		})

		It("should use the path of a missing module", func() {
			r := luaRunner()
			err := &cuehost.ImportError{
				Path:      "/proj/svc/service.cue",
				Name:      "d",
				Specifier: "../conf/defaults.cue",
				Err: &moduleloader.Error{
					Kind: moduleloader.KindSyntax,
					Path: "/proj/conf/defaults.cue",
					Err:  moduleloader.ErrModuleNotFound,
				},
			}
			Expect(r.failedDirs(err, "/proj/svc")).To(ConsistOf("/proj/conf", "/proj/conf"))
		})
	})

	Context("Watch", func() {
		var (
			tmp    string
			cancel context.CancelFunc
			done   chan error
		)

		write := func(name, content string) {
			path := filepath.Join(tmp, name)
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		}

		BeforeEach(func() {
			tmp = GinkgoT().TempDir()
			cfg.WatchDebounce = 20 * time.Millisecond
			done = make(chan error, 1)
		})

		startEntry := func(entry string) {
			var watchCtx context.Context
			watchCtx, cancel = context.WithCancel(ctx)
			r := New(cfg, out, WithGetwd(func() (string, error) { return tmp, nil }))
			go func() {
				defer GinkgoRecover()
				done <- r.Watch(watchCtx, entry)
			}()
		}

		start := func() {
			startEntry("main.lua")
		}

		AfterEach(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should reload when a dependency changes", func() {
			write("dep.lua", `return { v = 1 }`)
			write("main.lua", `return require("./dep.lua")`)
			start()
			Eventually(out).Should(gbytes.Say(`main\.lua table\{v\} \(2 modules\)`))

			write("dep.lua", `return { w = 2 }`)
			Eventually(out, 5*time.Second).Should(gbytes.Say(`main\.lua table\{w\} \(2 modules\)`))
		})

		It("should keep watching after a failed load", func() {
			write("main.lua", `return {`)
			start()
			Eventually(out).Should(gbytes.Say(`error: `))

			write("main.lua", `return { fixed = true }`)
			Eventually(out, 5*time.Second).Should(gbytes.Say(`main\.lua table\{fixed\} \(1 modules\)`))
		})

		It("should reload when a broken nested dependency is fixed", func() {
			write("main.lua", `return require("./lib/dep.lua")`)
			write("lib/dep.lua", `return {`)
			start()
			Eventually(out).Should(gbytes.Say(`error: `))

			write("lib/dep.lua", `return { fixed = true }`)
			Eventually(out, 5*time.Second).Should(gbytes.Say(`main\.lua table\{fixed\} \(2 modules\)`))
		})

		It("should reload when a missing nested CUE import appears", func() {
			write("svc/service.cue", "imports: d: \"../conf/defaults.cue\"\ndeps: d: _\nreplicas: deps.d.replicas\n")
			Expect(os.MkdirAll(filepath.Join(tmp, "conf"), 0o755)).To(Succeed())
			startEntry("svc/service.cue")
			Eventually(out).Should(gbytes.Say(`error: .*Module file not found`))

			write("conf/defaults.cue", "replicas: 2\n")
			Eventually(out, 5*time.Second).Should(gbytes.Say(`service\.cue struct\{replicas\} \(2 modules\)`))
		})
	})
})
