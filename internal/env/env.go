package env

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Var is a set of environment variables keyed by name.
type Var map[string]string

// Env layers environment variables for spawned runs. Precedence, lowest
// first: OS environment (when enabled), values loaded from files, global
// overrides, then per-run overrides passed to Merge.
type Env struct {
	useOS  bool
	global Var
	files  Var
	base   Var // cached OS environment
}

func New() *Env {
	return &Env{useOS: true, global: make(Var), files: make(Var)}
}

// UseOS controls whether the OS environment seeds the base layer.
func (e *Env) UseOS(on bool) { e.useOS = on }

// Set adds a global override K=V.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.global[k] = v
}

// SetAll adds global overrides from "K=V" pairs, skipping malformed entries.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.global[kv[:i]] = kv[i+1:]
		}
	}
}

// LoadFile reads a dotenv-style file (K=V per line, # comments) into the
// file layer. Later files override earlier ones.
func (e *Env) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		v = strings.Trim(v, `"'`)
		e.files[k] = v
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

// Merge composes the final "K=V" slice for one run, applying perRun
// overrides on top of the layered base and expanding ${VAR} references
// against the composed map (single pass, no recursion).
func (e *Env) Merge(perRun []string) []string {
	m := make(Var)
	if e.useOS {
		if e.base == nil {
			e.base = fromOS()
		}
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.files {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for _, kv := range perRun {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func fromOS() Var {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	return base
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
