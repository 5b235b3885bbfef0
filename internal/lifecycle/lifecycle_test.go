package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shuttlehq/shuttled-installer/internal/artifact"
	"github.com/shuttlehq/shuttled-installer/internal/identity"
	"github.com/shuttlehq/shuttled-installer/internal/platform"
	"github.com/shuttlehq/shuttled-installer/internal/registrar"
)

// fakeRegistrar simulates a service supervisor entirely in memory.
type fakeRegistrar struct {
	registered   bool
	active       bool
	startOnReg   bool
	failRegister error
	failUnreg    error
	stops        int
	registers    int
	unregisters  int
	startedNow   int
}

func (f *fakeRegistrar) Register() error {
	f.registers++
	if f.failRegister != nil {
		return f.failRegister
	}
	f.registered = true
	if f.startOnReg {
		f.active = true
	}
	return nil
}

func (f *fakeRegistrar) Unregister() error {
	f.unregisters++
	if f.failUnreg != nil {
		return f.failUnreg
	}
	f.registered = false
	f.active = false
	return nil
}

func (f *fakeRegistrar) Stop() error {
	f.stops++
	f.active = false
	return nil
}

func (f *fakeRegistrar) Status() (registrar.Status, error) {
	return registrar.Status{Registered: f.registered, Active: f.active}, nil
}

func (f *fakeRegistrar) ArtifactPath() string { return "/fake/registration" }
func (f *fakeRegistrar) Kind() string         { return "fake" }
func (f *fakeRegistrar) StartNow() error      { f.startedNow++; f.active = true; return nil }

// fakeIdentity tracks account state in memory. UID reports the test runner's
// own uid/gid so chown calls in artifact placement succeed unprivileged.
type fakeIdentity struct {
	exists  bool
	ensures int
	removes int
}

func (f *fakeIdentity) Ensure(platform.Target) error { f.ensures++; f.exists = true; return nil }
func (f *fakeIdentity) Remove(platform.Target) error { f.removes++; f.exists = false; return nil }
func (f *fakeIdentity) Exists(string) bool           { return f.exists }
func (f *fakeIdentity) UID(string) (int, int, error) { return os.Getuid(), os.Getgid(), nil }

func tempTarget(t *testing.T, scope platform.Scope) platform.Target {
	base := t.TempDir()
	tgt := platform.Target{
		Platform:   platform.Linux,
		Scope:      scope,
		BinaryName: "shuttled",
		BinDir:     filepath.Join(base, "bin"),
		BinPath:    filepath.Join(base, "bin", "shuttled"),
		DataDir:    filepath.Join(base, "data"),
		LogDir:     filepath.Join(base, "logs"),
		ConfigDir:  filepath.Join(base, "etc"),
		ConfigPath: filepath.Join(base, "etc", "shuttled.yaml"),
	}
	if scope == platform.System {
		tgt.ServiceUser = "shuttled"
	}
	return tgt
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shuttled")
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testController(t *testing.T, tgt platform.Target, reg *fakeRegistrar, id *fakeIdentity, confirm Confirmer) *Controller {
	c := New(tgt, reg, id, confirm, zap.NewNop())
	c.euid = func() int { return 0 }
	c.activeWait = 50 * time.Millisecond
	c.pollEvery = 5 * time.Millisecond
	return c
}

func TestInstall_FreshSystemHost(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	reg := &fakeRegistrar{startOnReg: true}
	id := &fakeIdentity{}
	c := testController(t, tgt, reg, id, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err != nil {
		t.Fatal(err)
	}

	if id.ensures != 1 {
		t.Errorf("identity ensured %d times, want 1", id.ensures)
	}
	if reg.registers != 1 {
		t.Errorf("registered %d times, want 1", reg.registers)
	}
	if _, err := os.Stat(tgt.BinPath); err != nil {
		t.Error("binary not placed")
	}
	if _, err := os.Stat(tgt.ConfigPath); err != nil {
		t.Error("service config not written")
	}

	state, err := c.Probe()
	if err != nil {
		t.Fatal(err)
	}
	if state != StateRunning {
		t.Errorf("state = %s, want running", state)
	}
}

func TestInstall_Idempotent(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))
	src := writeSource(t, "bin")

	if err := c.Install(context.Background(), src, false); err != nil {
		t.Fatal(err)
	}
	firstConfig, _ := os.ReadFile(tgt.ConfigPath)
	firstBinary, _ := os.ReadFile(tgt.BinPath)

	if err := c.Install(context.Background(), src, false); err != nil {
		t.Fatalf("second install = %v, want nil", err)
	}
	secondConfig, _ := os.ReadFile(tgt.ConfigPath)
	secondBinary, _ := os.ReadFile(tgt.BinPath)

	if !bytes.Equal(firstConfig, secondConfig) {
		t.Error("reinstall changed the config file")
	}
	if !bytes.Equal(firstBinary, secondBinary) {
		t.Error("reinstall changed the binary")
	}
	if reg.registers != 2 {
		t.Errorf("registered %d times, want 2 (re-applied)", reg.registers)
	}
}

func TestInstall_StopsRunningServiceBeforeReplacing(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{registered: true, active: true}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "v2"), false); err != nil {
		t.Fatal(err)
	}
	if reg.stops != 1 {
		t.Errorf("stopped %d times before replacing, want 1", reg.stops)
	}
}

func TestInstall_MissingSourceAborts(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))

	err := c.Install(context.Background(), filepath.Join(t.TempDir(), "nope"), false)
	if !errors.Is(err, artifact.ErrMissingArtifact) {
		t.Fatalf("Install = %v, want ErrMissingArtifact", err)
	}
	if reg.registers != 0 {
		t.Error("registration attempted despite missing source")
	}
}

func TestInstall_RegistrationFailureAborts(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{failRegister: fmt.Errorf("systemctl enable: exit status 1")}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err == nil {
		t.Fatal("Install with failing registration = nil, want error")
	}
}

func TestInstall_KeepsOperatorEditedConfig(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	if err := os.MkdirAll(tgt.ConfigDir, 0755); err != nil {
		t.Fatal(err)
	}
	edited := []byte("server:\n  port: 9999\n")
	if err := os.WriteFile(tgt.ConfigPath, edited, 0640); err != nil {
		t.Fatal(err)
	}

	c := testController(t, tgt, &fakeRegistrar{}, &fakeIdentity{}, fixedConfirmer(false))
	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(tgt.ConfigPath)
	if !bytes.Equal(got, edited) {
		t.Error("install overwrote an operator-edited config")
	}
}

func TestInstall_StartNow(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "bin"), true); err != nil {
		t.Fatal(err)
	}
	if reg.startedNow != 1 {
		t.Errorf("started now %d times, want 1", reg.startedNow)
	}
}

func TestUninstall_NeverInstalledHost(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	c := testController(t, tgt, &fakeRegistrar{}, &fakeIdentity{}, fixedConfirmer(false))

	if err := c.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall on clean host = %v, want nil", err)
	}
}

func TestUninstall_ReversesInstall(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	reg := &fakeRegistrar{startOnReg: true}
	id := &fakeIdentity{}
	c := testController(t, tgt, reg, id, fixedConfirmer(true))

	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.Uninstall(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(tgt.BinPath); !os.IsNotExist(err) {
		t.Error("binary still present")
	}
	if _, err := os.Stat(tgt.DataDir); !os.IsNotExist(err) {
		t.Error("data directory still present despite confirmation")
	}
	if id.removes != 1 {
		t.Errorf("identity removed %d times, want 1 (confirmed)", id.removes)
	}

	state, err := c.Probe()
	if err != nil {
		t.Fatal(err)
	}
	if state != StateAbsent {
		t.Errorf("state after uninstall = %s, want absent", state)
	}
}

func TestUninstall_DefaultKeepsDataAndIdentity(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	reg := &fakeRegistrar{}
	id := &fakeIdentity{}
	c := testController(t, tgt, reg, id, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err != nil {
		t.Fatal(err)
	}
	if err := c.Uninstall(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(tgt.DataDir); err != nil {
		t.Error("data directory removed without confirmation")
	}
	if id.removes != 0 {
		t.Error("service account removed without confirmation")
	}
}

func TestUninstall_ContinuesPastStepFailure(t *testing.T) {
	tgt := tempTarget(t, platform.User)
	reg := &fakeRegistrar{failUnreg: fmt.Errorf("launchctl unload: exit status 1")}
	c := testController(t, tgt, reg, &fakeIdentity{}, fixedConfirmer(false))

	if err := c.Install(context.Background(), writeSource(t, "bin"), false); err != nil {
		t.Fatal(err)
	}

	err := c.Uninstall(context.Background())
	if err == nil {
		t.Fatal("Uninstall with failed step = nil, want reported failure")
	}
	if _, statErr := os.Stat(tgt.BinPath); !os.IsNotExist(statErr) {
		t.Error("artifact removal skipped after earlier step failed")
	}
}

func TestUninstall_SystemScopeRequiresRoot(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	reg := &fakeRegistrar{registered: true}
	c := testController(t, tgt, reg, &fakeIdentity{exists: true}, fixedConfirmer(false))
	c.euid = func() int { return 1000 }

	err := c.Uninstall(context.Background())
	if !errors.Is(err, identity.ErrPrivilege) {
		t.Fatalf("Uninstall without root = %v, want ErrPrivilege", err)
	}
	if reg.unregisters != 0 {
		t.Error("teardown steps ran despite missing privilege")
	}
}

func TestProbe_StateLadder(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	reg := &fakeRegistrar{}
	id := &fakeIdentity{}
	c := testController(t, tgt, reg, id, fixedConfirmer(false))

	assertState := func(want State) {
		t.Helper()
		got, err := c.Probe()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Probe = %s, want %s", got, want)
		}
	}

	assertState(StateAbsent)

	id.exists = true
	assertState(StateIdentityReady)

	if err := os.MkdirAll(tgt.BinDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tgt.BinPath, []byte("bin"), 0755); err != nil {
		t.Fatal(err)
	}
	assertState(StateArtifactPlaced)

	reg.registered = true
	assertState(StateRegistered)

	reg.active = true
	assertState(StateRunning)
}

func TestReport(t *testing.T) {
	tgt := tempTarget(t, platform.System)
	c := testController(t, tgt, &fakeRegistrar{}, &fakeIdentity{}, fixedConfirmer(false))

	var buf bytes.Buffer
	if err := c.Report(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"State             : absent", tgt.BinPath, "(missing)"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestConfirmer_NonInteractiveDefaultsToNo(t *testing.T) {
	var out bytes.Buffer
	c := &interactiveConfirmer{
		in:    bufio.NewReader(strings.NewReader("")),
		out:   &out,
		isTTY: func() bool { return false },
	}
	if c.Confirm("Remove everything?") {
		t.Error("non-interactive confirm = yes, want safe default no")
	}
}

func TestConfirmer_ParsesAnswers(t *testing.T) {
	tests := []struct {
		answer string
		want   bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"whatever\n", false},
	}
	for _, tt := range tests {
		c := &interactiveConfirmer{
			in:    bufio.NewReader(strings.NewReader(tt.answer)),
			out:   &bytes.Buffer{},
			isTTY: func() bool { return true },
		}
		if got := c.Confirm("sure?"); got != tt.want {
			t.Errorf("Confirm with answer %q = %v, want %v", strings.TrimSpace(tt.answer), got, tt.want)
		}
	}
}
