package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt64
	FieldDuration
	FieldFile
	FieldDir
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Type     FieldType
	Required bool
}

func (f Field) placeholder() string {
	switch f.Type {
	case FieldInt64:
		return "<n>"
	case FieldDuration:
		return "<duration>"
	case FieldFile, FieldDir:
		return "<path>"
	default:
		return "<" + f.Name + ">"
	}
}

// Command defines a REPL command.
type Command struct {
	Name    string
	Summary string
	// Remote commands need a running judge service.
	Remote bool
	Fields []Field
}

// Usage renders "name key=<v> [opt=<v>]".
func (c Command) Usage() string {
	parts := []string{c.Name}
	for _, f := range c.Fields {
		arg := f.Name + "=" + f.placeholder()
		if !f.Required {
			arg = "[" + arg + "]"
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// Parse reads key=value tokens for cmd and checks them against its fields.
func Parse(cmd Command, tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	known := make(map[string]Field, len(cmd.Fields))
	for _, f := range cmd.Fields {
		known[strings.ToLower(f.Name)] = f
	}
	for key, value := range params {
		field, ok := known[key]
		if !ok {
			return nil, fmt.Errorf("unknown param %q for %s", key, cmd.Name)
		}
		if err := validate(field, value); err != nil {
			return nil, err
		}
	}
	for _, f := range cmd.Fields {
		if f.Required && params.Get(f.Name) == "" {
			return nil, fmt.Errorf("missing %s, usage: %s", f.Name, cmd.Usage())
		}
	}
	return params, nil
}

func validate(f Field, value string) error {
	switch f.Type {
	case FieldInt64:
		if _, err := ParseInt64(value); err != nil {
			return fmt.Errorf("%s must be an integer", f.Name)
		}
	case FieldDuration:
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a duration or milliseconds", f.Name)
		}
	case FieldFile, FieldDir:
		info, err := os.Stat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		if f.Type == FieldDir && !info.IsDir() {
			return fmt.Errorf("%s: %s is not a directory", f.Name, value)
		}
		if f.Type == FieldFile && info.IsDir() {
			return fmt.Errorf("%s: %s is a directory", f.Name, value)
		}
	}
	return nil
}

func ParseInt64(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

// ParseDuration accepts Go durations and bare milliseconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
