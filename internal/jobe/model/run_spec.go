package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"jobe/internal/jobe/task"
	appErr "jobe/pkg/errors"
)

const minFileIDLength = 8

// RunRequest is the body of POST /runs.
type RunRequest struct {
	RunSpec *RunSpec `json:"run_spec"`
}

// RunSpec is the caller's description of one job. Required fields are
// pointers so that absence can be told apart from an empty value.
type RunSpec struct {
	LanguageID     *string                `json:"language_id"`
	SourceCode     *string                `json:"sourcecode"`
	SourceFileName *string                `json:"sourcefilename"`
	Input          string                 `json:"input"`
	Parameters     map[string]interface{} `json:"parameters"`
	FileList       []json.RawMessage      `json:"file_list"`
	Debug          bool                   `json:"debug"`
}

// LanguageLookup resolves language ids.
type LanguageLookup interface {
	Lookup(id string) (task.Variant, error)
}

// Job validates the request and converts it into a job. Checks run in a
// fixed order so the first failure reported is deterministic.
func (r *RunRequest) Job(languages LanguageLookup, maxCPUTime int) (task.Job, error) {
	if r == nil || r.RunSpec == nil {
		return task.Job{}, appErr.New(appErr.RequiredFieldEmpty).WithMessage("No run_spec attribute found in post data")
	}
	return r.RunSpec.Job(languages, maxCPUTime)
}

func (s *RunSpec) Job(languages LanguageLookup, maxCPUTime int) (task.Job, error) {
	if s.SourceCode == nil {
		return task.Job{}, missing("sourcecode")
	}
	if s.LanguageID == nil {
		return task.Job{}, missing("language_id")
	}
	lang := strings.ToLower(*s.LanguageID)
	if _, err := languages.Lookup(lang); err != nil {
		return task.Job{}, err
	}

	overrides, err := task.ParseOverrides(s.Parameters)
	if err != nil {
		return task.Job{}, err
	}
	if cpu, ok := overrides.CPUTime(); ok && cpu > maxCPUTime {
		return task.Job{}, appErr.Newf(appErr.CPUTimeExceeded,
			"cputime exceeds maximum allowed on this Jobe server (%d secs)", maxCPUTime).
			WithDetail("max_cputime", maxCPUTime)
	}

	fileName := ""
	if s.SourceFileName != nil {
		if !ValidSourceFileName(*s.SourceFileName) {
			return task.Job{}, appErr.New(appErr.InvalidSourceFilename)
		}
		if *s.SourceFileName != task.LegacyJavaFileName {
			fileName = *s.SourceFileName
		}
	}

	files := make([]task.FileSpec, 0, len(s.FileList))
	for _, raw := range s.FileList {
		spec, err := parseFileSpec(raw)
		if err != nil {
			return task.Job{}, err
		}
		files = append(files, spec)
	}

	return task.Job{
		Language:       lang,
		SourceCode:     *s.SourceCode,
		SourceFileName: fileName,
		Input:          s.Input,
		Overrides:      overrides,
		Files:          files,
		Debug:          s.Debug,
	}, nil
}

func missing(attr string) error {
	return appErr.New(appErr.RequiredFieldEmpty).
		WithMessagef("run_spec is missing the required attribute '%s'", attr).
		WithDetail("field", attr)
}

// ValidSourceFileName reports whether name is safe to create inside a job
// directory: no filesystem or URI reserved characters, no control bytes, and
// no leading '.' or '-'. The check is bytewise.
func ValidSourceFileName(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return false
	}
	for i := 0; i < len(name); i++ {
		if reservedByte(name[i]) {
			return false
		}
	}
	return true
}

func reservedByte(b byte) bool {
	switch {
	case b <= 0x1f, b == 0x7f, b == 0xa0, b == 0xad:
		return true
	}
	return strings.IndexByte(`<>:"/\|?*#[]@!$&'()+,;={}^~`+"`", b) >= 0
}

// parseFileSpec accepts [id, name] or [id, name, mode] where mode is an
// octal string such as "0755".
func parseFileSpec(raw json.RawMessage) (task.FileSpec, error) {
	var parts []interface{}
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 2 || len(parts) > 3 {
		return task.FileSpec{}, invalidFileSpec(raw)
	}
	id, ok := parts[0].(string)
	if !ok || len(id) < minFileIDLength || !isAlnum(id) {
		return task.FileSpec{}, invalidFileSpec(raw)
	}
	name, ok := parts[1].(string)
	if !ok || !validDestName(name) {
		return task.FileSpec{}, invalidFileSpec(raw)
	}
	spec := task.FileSpec{ID: id, Name: name}
	if len(parts) == 3 {
		mode, err := parseMode(parts[2])
		if err != nil {
			return task.FileSpec{}, invalidFileSpec(raw)
		}
		spec.Mode = mode
	}
	return spec, nil
}

func parseMode(v interface{}) (os.FileMode, error) {
	var s string
	switch m := v.(type) {
	case string:
		s = m
	case float64:
		s = strconv.FormatFloat(m, 'f', -1, 64)
	default:
		return 0, fmt.Errorf("mode must be an octal string")
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o777 {
		return 0, fmt.Errorf("bad mode %q", s)
	}
	return os.FileMode(n), nil
}

func validDestName(name string) bool {
	stripped := strings.NewReplacer("-", "", "_", "", ".", "").Replace(name)
	return name != "" && isAlnum(stripped)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

func invalidFileSpec(raw json.RawMessage) error {
	return appErr.Newf(appErr.InvalidFileSpec, "Invalid file specifier: %s", string(raw))
}
