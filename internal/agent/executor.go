package agent

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fleur-q/internal/engine"
)

const (
	inpgenKind      = "fleur.inpgen"
	inpgenInputFile = "aiida.in"
	shellOutputFile = "shell.out"
	maxCollectBytes = 16 << 20
)

// DryRun answers every task without running anything. Inpgen tasks get an
// inp.xml naming their structure, other tasks echo the staged inp.xml.
type DryRun struct{}

func (DryRun) Execute(ctx context.Context, t *Task) (engine.Result, error) {
	files := make(map[string]string, 2)
	if staged, ok := t.Files["inp.xml"]; ok {
		files["inp.xml"] = string(staged)
	} else {
		files["inp.xml"] = dryRunInputXML(t)
	}
	files[shellOutputFile] = fmt.Sprintf("dry run: %s %s\n", t.Code.Code.Executable, strings.Join(t.args(), " "))
	return engine.Result{Message: "dry run", Files: files}, nil
}

func dryRunInputXML(t *Task) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<fleurInput fleurInputVersion=\"0.34\">\n  <comment>")
	formula := ""
	if s := t.Subject(); s != nil {
		formula = s.Formula()
	}
	_ = xml.EscapeText(&b, []byte(formula))
	b.WriteString("</comment>\n")
	if s := t.Subject(); s != nil && s.Structure != nil {
		b.WriteString("  <atomSpecies>\n")
		for _, site := range s.Structure.Sites {
			fmt.Fprintf(&b, "    <species element=%q/>\n", site.Symbol)
		}
		b.WriteString("  </atomSpecies>\n")
	}
	b.WriteString("</fleurInput>\n")
	return b.String()
}

// args returns the command line of the code for t.
func (t *Task) args() []string {
	if t.Kind.Name == inpgenKind {
		return []string{"-explicit", "-f", inpgenInputFile}
	}
	return nil
}

// Shell runs the code executable in a fresh directory per task and collects
// every file the run leaves behind.
type Shell struct {
	// WorkDir holds the task directories. Empty uses the system temp dir.
	WorkDir string
	// Keep leaves task directories in place after the run.
	Keep bool
	// Timeout bounds tasks that request no wallclock limit. Zero is unbounded.
	Timeout time.Duration
}

func (s *Shell) Execute(ctx context.Context, t *Task) (engine.Result, error) {
	exe := t.Code.Code.Executable
	if exe == "" {
		return engine.Result{}, fmt.Errorf("code %s has no executable", t.Code)
	}
	if s.WorkDir != "" {
		if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
			return engine.Result{}, err
		}
	}
	dir, err := os.MkdirTemp(s.WorkDir, fmt.Sprintf("job-%d-", t.Job.PK))
	if err != nil {
		return engine.Result{}, err
	}
	if !s.Keep {
		defer os.RemoveAll(dir)
	}

	staged, err := s.stage(dir, t)
	if err != nil {
		return engine.Result{}, err
	}

	timeout := s.Timeout
	if secs := t.Job.Options.MaxWallclockSeconds; secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, exe, t.args()...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	files, err := collect(dir, staged)
	if err != nil {
		return engine.Result{}, err
	}
	files[shellOutputFile] = out.String()
	res := engine.Result{Files: files}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitStatus = ExitWallclock
		res.Message = fmt.Sprintf("exceeded wallclock limit of %s", timeout)
	case errors.As(runErr, &exitErr):
		res.ExitStatus = exitErr.ExitCode()
		if res.ExitStatus <= 0 {
			res.ExitStatus = ExitStartup
		}
		res.Message = fmt.Sprintf("%s: %v", filepath.Base(exe), exitErr)
	case runErr != nil:
		return engine.Result{}, runErr
	case t.Kind.Name == inpgenKind && files["inp.xml"] == "":
		res.ExitStatus = ExitNoInputXML
		res.Message = "inpgen produced no inp.xml"
	}
	return res, nil
}

// stage writes the task inputs into dir and returns the names written.
func (s *Shell) stage(dir string, t *Task) (map[string]bool, error) {
	staged := make(map[string]bool, len(t.Files)+1)
	for name, data := range t.Files {
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(name)), data, 0o644); err != nil {
			return nil, err
		}
		staged[filepath.Base(name)] = true
	}
	if t.Kind.Name != inpgenKind {
		return staged, nil
	}
	structure := t.Inputs["structure"]
	if structure == nil || structure.Structure == nil {
		return nil, fmt.Errorf("job %d has no structure input", t.Job.PK)
	}
	var params map[string]any
	if p := t.Inputs["parameters"]; p != nil {
		params = p.Dict
	}
	in, err := InpgenInput(structure.Structure, params)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, inpgenInputFile), []byte(in), 0o644); err != nil {
		return nil, err
	}
	staged[inpgenInputFile] = true
	return staged, nil
}

// collect reads every regular file in dir that was not staged. Oversized
// files are left out.
func collect(dir string, staged map[string]bool) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || staged[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if info.Size() > maxCollectBytes {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files[e.Name()] = string(data)
	}
	return files, nil
}
