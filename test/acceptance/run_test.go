package acceptance_test

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// setupRepo creates a bare "origin" plus a working clone with one commit
// on main, returning the clone's directory.
func setupRepo(tmpDir string) (repoDir string) {
	bare := filepath.Join(tmpDir, "origin.git")
	ExpectWithOffset(1, os.MkdirAll(bare, 0755)).To(Succeed())
	runGit(bare, "init", "--bare", "-q")

	repoDir = filepath.Join(tmpDir, "repo")
	ExpectWithOffset(1, os.MkdirAll(repoDir, 0755)).To(Succeed())
	runGit(repoDir, "init", "-q")
	runGit(repoDir, "config", "user.name", "cwm-test")
	runGit(repoDir, "config", "user.email", "cwm-test@localhost")
	writeFile(filepath.Join(repoDir, "README.md"), "hi\n")
	runGit(repoDir, "add", "-A")
	runGit(repoDir, "commit", "-q", "-m", "initial")
	runGit(repoDir, "branch", "-M", "main")
	runGit(repoDir, "remote", "add", "origin", bare)
	runGit(repoDir, "push", "-q", "origin", "main")
	return repoDir
}

func writeConfig(repoDir, baseURL string, extra string) string {
	path := filepath.Join(repoDir, "cwm.yaml")
	base := fmt.Sprintf(`
ciToken: test-token
repoOwner: acme
repoName: widgets
branch: main
checkInterval: 10ms
requiredPassStreak: 2
maxIterations: 10
maxWallClock: 10s
provider:
  baseURL: %s
reporter:
  logFormat: console
  reportsDir: reports
`, baseURL)
	// A top-level key given in extra replaces the base line with that key:
	// the YAML decoder rejects a mapping key that appears twice.
	for _, line := range strings.Split(extra, "\n") {
		if key, _, ok := strings.Cut(line, ":"); ok && key != "" {
			base = regexp.MustCompile(`(?m)^`+regexp.QuoteMeta(key)+`:.*\n`).ReplaceAllString(base, "")
		}
	}
	writeFile(path, base+extra)
	return path
}

var _ = Describe("cwm run", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cwm-acceptance-*")
		Expect(err).NotTo(HaveOccurred())
		repoDir = setupRepo(tmpDir)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("fixes a missing dependency and stops Stop:Passed once green", func() {
		fg := &fakeGitHub{
			log:   "ModuleNotFoundError: No module named 'requests'\n",
			ticks: []bool{true, false, false},
		}
		srv := newFakeGitHubServer(fg)
		defer srv.Close()

		configPath := writeConfig(repoDir, srv.URL, "")

		cmd := exec.Command(binaryPath, "run", configPath)
		cmd.Dir = repoDir
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))
		Expect(string(output)).To(ContainSubstring("Stop:Passed"))

		data, err := os.ReadFile(filepath.Join(repoDir, "requirements.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring("requests"))

		log := runGitOutput(repoDir, "log", "--format=%s")
		Expect(log).To(ContainSubstring("auto-fix(iter="))
	})

	It("classifies and reports but never writes or commits in dry-run mode", func() {
		fg := &fakeGitHub{
			log:   "ModuleNotFoundError: No module named 'requests'\n",
			ticks: []bool{true, false, false},
		}
		srv := newFakeGitHubServer(fg)
		defer srv.Close()

		configPath := writeConfig(repoDir, srv.URL, "dryRun: true\n")

		cmd := exec.Command(binaryPath, "run", configPath)
		cmd.Dir = repoDir
		output, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "output: %s", string(output))

		_, statErr := os.Stat(filepath.Join(repoDir, "requirements.txt"))
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		log := runGitOutput(repoDir, "log", "--format=%s")
		Expect(log).NotTo(ContainSubstring("auto-fix(iter="))
	})

	It("stops Stop:Fatal when a fix would escape the workspace root", func() {
		fg := &fakeGitHub{
			log:   "ImportError: cannot import name 'pwned' from '../../etc/passwd'\n",
			ticks: []bool{true, true, true, true, true},
		}
		srv := newFakeGitHubServer(fg)
		defer srv.Close()

		configPath := writeConfig(repoDir, srv.URL, "requiredPassStreak: 1000\n")

		cmd := exec.Command(binaryPath, "run", configPath)
		cmd.Dir = repoDir
		output, _ := cmd.CombinedOutput()
		Expect(string(output)).To(ContainSubstring("Stop:Fatal"))
	})

	It("stops Stop:Budget once maxIterations is exhausted", func() {
		fg := &fakeGitHub{
			log:   "TestFailure: 1 failed\n",
			ticks: []bool{true, true, true, true, true, true, true, true},
		}
		srv := newFakeGitHubServer(fg)
		defer srv.Close()

		configPath := writeConfig(repoDir, srv.URL, "requiredPassStreak: 1000\nmaxIterations: 3\n")

		cmd := exec.Command(binaryPath, "run", configPath)
		cmd.Dir = repoDir
		output, _ := cmd.CombinedOutput()
		Expect(string(output)).To(ContainSubstring("Stop:Budget"))
	})

	It("stops Stop:Cancelled on SIGINT", func() {
		fg := &fakeGitHub{
			log:   "TestFailure: 1 failed\n",
			ticks: []bool{true},
		}
		srv := newFakeGitHubServer(fg)
		defer srv.Close()

		configPath := writeConfig(repoDir, srv.URL, "requiredPassStreak: 1000\ncheckInterval: 2s\n")

		cmd := exec.Command(binaryPath, "run", configPath)
		cmd.Dir = repoDir
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		Expect(cmd.Start()).To(Succeed())

		time.Sleep(300 * time.Millisecond)
		Expect(cmd.Process.Signal(os.Interrupt)).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			Fail("cwm run did not exit after SIGINT")
		}
		Expect(output.String()).To(ContainSubstring("Stop:Cancelled"))
	})
})
