// Package language maps language ids to source file names and command templates.
package language

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	appErr "codejudge/pkg/errors"

	"github.com/google/shlex"
)

const (
	defaultPythonPath = "python3"
	defaultNodePath   = "node"
)

// Spec describes how to build and run one language.
// Templates may reference {src} {bin} {dir} {python} {node} {exe}.
type Spec struct {
	ID         string `yaml:"id"`
	Extension  string `yaml:"extension"`
	SourceName string `yaml:"sourceName"`
	CompileCmd string `yaml:"compileCmd"`
	RunCmd     string `yaml:"runCmd"`
}

// Config lists interpreter paths and extra or overriding language specs.
type Config struct {
	PythonPath string `yaml:"pythonPath"`
	NodePath   string `yaml:"nodePath"`
	Languages  []Spec `yaml:"languages"`
}

// BuiltinSpecs returns the languages supported out of the box.
func BuiltinSpecs() []Spec {
	return []Spec{
		{ID: "python", Extension: "py", SourceName: "solution.py", RunCmd: "{python} {src}"},
		{ID: "javascript", Extension: "js", SourceName: "solution.js", RunCmd: "{node} {src}"},
		{ID: "cpp", Extension: "cpp", SourceName: "solution.cpp", CompileCmd: "g++ {src} -o {bin}", RunCmd: "{bin}"},
		{ID: "java", Extension: "java", SourceName: "Solution.java", CompileCmd: "javac {src}", RunCmd: "java -cp {dir} Solution"},
	}
}

// ExecutableSuffix is the suffix given to compiled binaries on this platform.
func ExecutableSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ".out"
}

// Adapter resolves language ids against the configured specs.
type Adapter struct {
	pythonPath string
	nodePath   string
	specs      map[string]Spec
}

// NewAdapter builds an adapter from cfg. Languages in cfg replace built-ins with the same id.
func NewAdapter(cfg Config) (*Adapter, error) {
	a := &Adapter{
		pythonPath: cfg.PythonPath,
		nodePath:   cfg.NodePath,
		specs:      make(map[string]Spec),
	}
	if a.pythonPath == "" {
		a.pythonPath = defaultPythonPath
	}
	if a.nodePath == "" {
		a.nodePath = defaultNodePath
	}
	for _, spec := range BuiltinSpecs() {
		a.specs[spec.ID] = spec
	}
	for _, spec := range cfg.Languages {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		a.specs[strings.ToLower(spec.ID)] = spec
	}
	return a, nil
}

func validateSpec(spec Spec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return appErr.ValidationError("language.id", "required")
	}
	if strings.TrimSpace(spec.RunCmd) == "" {
		return appErr.ValidationError("language."+spec.ID+".runCmd", "required")
	}
	if spec.SourceName == "" && spec.Extension == "" {
		return appErr.ValidationError("language."+spec.ID+".sourceName", "sourceName or extension required")
	}
	return nil
}

// Resolve returns the language registered under id.
func (a *Adapter) Resolve(id string) (Language, error) {
	spec, ok := a.specs[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Language{}, appErr.Newf(appErr.LanguageNotSupported, "Unsupported language: %s", id)
	}
	return Language{spec: spec, pythonPath: a.pythonPath, nodePath: a.nodePath}, nil
}

// Languages lists supported ids in sorted order.
func (a *Adapter) Languages() []string {
	ids := make([]string, 0, len(a.specs))
	for id := range a.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Language is a resolved spec bound to interpreter paths.
type Language struct {
	spec       Spec
	pythonPath string
	nodePath   string
}

func (l Language) ID() string { return l.spec.ID }

// HasCompileStep reports whether the language needs compiling before it runs.
func (l Language) HasCompileStep() bool {
	return strings.TrimSpace(l.spec.CompileCmd) != ""
}

// SourceFile is the path the submitted code is written to inside dir.
func (l Language) SourceFile(dir string) string {
	name := l.spec.SourceName
	if name == "" {
		name = "solution." + l.spec.Extension
	}
	return filepath.Join(dir, name)
}

func (l Language) binaryFile(dir string) string {
	name := filepath.Base(l.SourceFile(dir))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(dir, name+ExecutableSuffix())
}

// CompileCommand returns the compile argv, or false when there is no compile step.
func (l Language) CompileCommand(dir string) ([]string, bool, error) {
	if !l.HasCompileStep() {
		return nil, false, nil
	}
	cmd, err := l.expand(l.spec.CompileCmd, dir)
	if err != nil {
		return nil, false, err
	}
	return cmd, true, nil
}

// RunCommand returns the argv that executes the program.
func (l Language) RunCommand(dir string) ([]string, error) {
	return l.expand(l.spec.RunCmd, dir)
}

func (l Language) expand(tpl, dir string) ([]string, error) {
	// Split first so paths with spaces stay single arguments.
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty")
	}
	replacer := strings.NewReplacer(
		"{src}", l.SourceFile(dir),
		"{bin}", l.binaryFile(dir),
		"{dir}", dir,
		"{python}", l.pythonPath,
		"{node}", l.nodePath,
		"{exe}", ExecutableSuffix(),
	)
	for i, f := range fields {
		fields[i] = replacer.Replace(f)
	}
	return fields, nil
}
