package rubric

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies one of the check primitives a rubric may use.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommandsExist
	KindOutputContains
	KindFilesExist
	KindDirsExist
	KindEnvVarSet
	KindFileContains
	KindRunCommand
)

var kindNames = [...]string{
	KindUnknown:        "Unknown",
	KindCommandsExist:  "CommandsExist",
	KindOutputContains: "OutputContains",
	KindFilesExist:     "FilesExist",
	KindDirsExist:      "DirsExist",
	KindEnvVarSet:      "EnvVarSet",
	KindFileContains:   "FileContains",
	KindRunCommand:     "RunCommand",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind maps a declared type to a Kind. Matching ignores case and
// underscores so "commands_exist" and "CommandsExist" are the same kind.
func ParseKind(s string) Kind {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for k, name := range kindNames {
		if Kind(k) == KindUnknown {
			continue
		}
		if strings.ToLower(name) == norm {
			return Kind(k)
		}
	}
	return KindUnknown
}

// Check is the typed parameter set of one test. The set of implementations
// is closed; use Dispatch with a Handler to act on it.
type Check interface {
	Kind() Kind
	isCheck()
}

type CommandsExist struct {
	Names Strings `json:"names"`
}

type OutputContains struct {
	Command  string  `json:"command"`
	Contains Strings `json:"contains"`
}

type FilesExist struct {
	Paths Strings `json:"paths"`
}

type DirsExist struct {
	Paths Strings `json:"paths"`
}

type EnvVarSet struct {
	Name string `json:"name"`
}

type FileContains struct {
	Path     string  `json:"path"`
	Contains Strings `json:"contains"`
}

type RunCommand struct {
	Command string `json:"command"`
}

// Unknown carries a type name this version does not implement.
type Unknown struct {
	Type string
}

func (CommandsExist) Kind() Kind  { return KindCommandsExist }
func (OutputContains) Kind() Kind { return KindOutputContains }
func (FilesExist) Kind() Kind     { return KindFilesExist }
func (DirsExist) Kind() Kind      { return KindDirsExist }
func (EnvVarSet) Kind() Kind      { return KindEnvVarSet }
func (FileContains) Kind() Kind   { return KindFileContains }
func (RunCommand) Kind() Kind     { return KindRunCommand }
func (Unknown) Kind() Kind        { return KindUnknown }

func (CommandsExist) isCheck()  {}
func (OutputContains) isCheck() {}
func (FilesExist) isCheck()     {}
func (DirsExist) isCheck()      {}
func (EnvVarSet) isCheck()      {}
func (FileContains) isCheck()   {}
func (RunCommand) isCheck()     {}
func (Unknown) isCheck()        {}

// Handler has one method per check variant. Adding a variant adds a method,
// so every handler in the tree has to be updated before it compiles.
type Handler[T any] interface {
	CommandsExist(CommandsExist) T
	OutputContains(OutputContains) T
	FilesExist(FilesExist) T
	DirsExist(DirsExist) T
	EnvVarSet(EnvVarSet) T
	FileContains(FileContains) T
	RunCommand(RunCommand) T
	Unknown(Unknown) T
}

func Dispatch[T any](c Check, h Handler[T]) T {
	switch c := c.(type) {
	case CommandsExist:
		return h.CommandsExist(c)
	case OutputContains:
		return h.OutputContains(c)
	case FilesExist:
		return h.FilesExist(c)
	case DirsExist:
		return h.DirsExist(c)
	case EnvVarSet:
		return h.EnvVarSet(c)
	case FileContains:
		return h.FileContains(c)
	case RunCommand:
		return h.RunCommand(c)
	case Unknown:
		return h.Unknown(c)
	}
	return h.Unknown(Unknown{Type: fmt.Sprintf("%T", c)})
}

func decodeCheck(kind Kind, declared string, raw json.RawMessage) (Check, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		c   Check
		err error
	)
	switch kind {
	case KindCommandsExist:
		var p CommandsExist
		err = json.Unmarshal(raw, &p)
		c = p
	case KindOutputContains:
		var p OutputContains
		err = json.Unmarshal(raw, &p)
		c = p
	case KindFilesExist:
		var p FilesExist
		err = json.Unmarshal(raw, &p)
		c = p
	case KindDirsExist:
		var p DirsExist
		err = json.Unmarshal(raw, &p)
		c = p
	case KindEnvVarSet:
		var p EnvVarSet
		err = json.Unmarshal(raw, &p)
		c = p
	case KindFileContains:
		var p FileContains
		err = json.Unmarshal(raw, &p)
		c = p
	case KindRunCommand:
		var p RunCommand
		err = json.Unmarshal(raw, &p)
		c = p
	default:
		return Unknown{Type: declared}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("params for %s: %w", kind, err)
	}
	return c, nil
}

// Strings is a list parameter. Rubrics sometimes carry numbers or booleans
// where text is expected, and sometimes a bare scalar instead of a list;
// both are accepted and kept in their textual form.
type Strings []string

func (s *Strings) UnmarshalJSON(data []byte) error {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		var single any
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return err
		}
		if single == nil {
			*s = nil
			return nil
		}
		items = []any{single}
	}
	out := make(Strings, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(v))
		default:
			return fmt.Errorf("item %d: expected a string, got %T", i, item)
		}
	}
	*s = out
	return nil
}
