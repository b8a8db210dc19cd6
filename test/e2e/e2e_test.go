//go:build e2e
// +build e2e

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

package e2e

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"
)

var _ = Describe("modport", func() {
	var dir string

	write := func(name, content string) {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}

	// start runs the binary in dir with an isolated HOME
	start := func(args ...string) *gexec.Session {
		cmd := exec.Command(binary, args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "HOME="+dir)
		session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
		Expect(err).NotTo(HaveOccurred())
		return session
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		write("main.lua", `
local a = require("./a.lua")
local b = require("./lib/b.lua")
return { a = a, b = b }
`)
		write("a.lua", `return require("./lib/b.lua") .. "+a"`)
		write("lib/b.lua", `return "b"`)
		write("broken.lua", `return {`)

		write("cue/defaults.cue", `replicas: 3`)
		write("cue/service.cue", `
imports: defaults: "./defaults.cue"
deps: defaults: _

name:     "api"
replicas: deps.defaults.replicas
`)
	})

	It("should run a Lua entry", func() {
		session := start("run", "main.lua")
		Eventually(session).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say(`main\.lua table\{a, b\} \(3 modules\)`))
	})

	It("should run a CUE entry", func() {
		session := start("run", "cue/service.cue")
		Eventually(session).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say(`service\.cue struct\{name, replicas\} \(2 modules\)`))
	})

	It("should fail check when an entry does not load", func() {
		session := start("check", "main.lua", "broken.lua", "cue/service.cue")
		Eventually(session).Should(gexec.Exit(1))
		Expect(session.Out).To(gbytes.Say(`ok   main\.lua`))
		Expect(session.Out).To(gbytes.Say(`FAIL broken\.lua`))
		Expect(session.Out).To(gbytes.Say(`ok   cue/service\.cue`))
	})

	It("should print the graph dependencies first", func() {
		session := start("graph", "main.lua")
		Eventually(session).Should(gexec.Exit(0))
		Expect(session.Out).To(gbytes.Say(`lib/b\.lua`))
		Expect(session.Out).To(gbytes.Say(`/a\.lua`))
		Expect(session.Out).To(gbytes.Say(`/main\.lua`))
	})

	It("should report a missing module as not found in strict mode", func() {
		write("missing.lua", `return require("./absent.lua")`)
		session := start("--strict-not-found", "run", "missing.lua")
		Eventually(session).Should(gexec.Exit(1))
		Expect(session.Err).To(gbytes.Say(`ModuleNotFoundError`))
	})

	It("should reload on change and serve metrics while watching", func() {
		addr := freeAddress()
		session := start("--watch-debounce", "50ms", "--metrics-bind-address", addr, "watch", "main.lua")
		Eventually(session.Out).Should(gbytes.Say(`main\.lua table\{a, b\}`))

		By("changing a dependency")
		write("lib/b.lua", `return "changed"`)
		Eventually(session.Out, 10*time.Second).Should(gbytes.Say(`main\.lua table\{a, b\}`))

		By("scraping the metrics endpoint")
		Eventually(func(g Gomega) {
			resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
			g.Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(string(body)).To(ContainSubstring(`modport_resolve_total{result="loaded"}`))
		}).Should(Succeed())

		session.Interrupt()
		Eventually(session, 10*time.Second).Should(gexec.Exit(0))
	})
})

// freeAddress returns a loopback address with a port that was free a moment ago
func freeAddress() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	defer ln.Close()
	return ln.Addr().String()
}
