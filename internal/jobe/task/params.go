package task

import (
	"fmt"
	"math"
	"strconv"

	appErr "jobe/pkg/errors"

	"github.com/google/shlex"
)

// Parameter keys accepted in run_spec.parameters.
const (
	ParamCPUTime         = "cputime"
	ParamMemoryLimit     = "memorylimit"
	ParamDiskLimit       = "disklimit"
	ParamNumProcs        = "numprocs"
	ParamCompileArgs     = "compileargs"
	ParamLinkArgs        = "linkargs"
	ParamInterpreterArgs = "interpreterargs"
	ParamRunArgs         = "runargs"
	ParamMainClass       = "main_class"
)

// Params is the fully resolved parameter set of a job. Sizes are in MB,
// times in seconds.
type Params struct {
	CPUTime         int
	MemoryLimit     int
	DiskLimit       int
	NumProcs        int
	CompileArgs     []string
	LinkArgs        []string
	InterpreterArgs []string
	RunArgs         []string
	MainClass       string
}

// DefaultParams returns the global defaults every variant starts from.
func DefaultParams() Params {
	return Params{
		CPUTime:     5,
		MemoryLimit: 200,
		DiskLimit:   100,
		NumProcs:    20,
	}
}

// Overrides are the caller-supplied parameters after type checking.
// Unknown keys are kept and ignored.
type Overrides struct {
	ints  map[string]int
	args  map[string][]string
	strs  map[string]string
	extra map[string]interface{}
}

// ParseOverrides validates the raw JSON parameters object. Numbers may be
// JSON numbers or numeric strings; argument lists may be arrays of strings
// or a single shell-quoted string.
func ParseOverrides(raw map[string]interface{}) (Overrides, error) {
	o := Overrides{
		ints:  map[string]int{},
		args:  map[string][]string{},
		strs:  map[string]string{},
		extra: map[string]interface{}{},
	}
	for key, value := range raw {
		switch key {
		case ParamCPUTime, ParamMemoryLimit, ParamDiskLimit, ParamNumProcs:
			n, err := toInt(value)
			if err != nil {
				return Overrides{}, paramError(key, err.Error())
			}
			o.ints[key] = n
		case ParamCompileArgs, ParamLinkArgs, ParamInterpreterArgs, ParamRunArgs:
			args, err := toArgs(value)
			if err != nil {
				return Overrides{}, paramError(key, err.Error())
			}
			o.args[key] = args
		case ParamMainClass:
			if value == nil {
				continue
			}
			s, ok := value.(string)
			if !ok {
				return Overrides{}, paramError(key, "must be a string")
			}
			o.strs[key] = s
		default:
			o.extra[key] = value
		}
	}
	return o, nil
}

// CPUTime returns the requested cpu time, if any.
func (o Overrides) CPUTime() (int, bool) {
	n, ok := o.ints[ParamCPUTime]
	return n, ok
}

// Int returns the integer override for key.
func (o Overrides) Int(key string) (int, bool) {
	n, ok := o.ints[key]
	return n, ok
}

// Apply copies every supplied override onto p.
func (o Overrides) Apply(p *Params) {
	if n, ok := o.ints[ParamCPUTime]; ok {
		p.CPUTime = n
	}
	if n, ok := o.ints[ParamMemoryLimit]; ok {
		p.MemoryLimit = n
	}
	if n, ok := o.ints[ParamDiskLimit]; ok {
		p.DiskLimit = n
	}
	if n, ok := o.ints[ParamNumProcs]; ok {
		p.NumProcs = n
	}
	if a, ok := o.args[ParamCompileArgs]; ok {
		p.CompileArgs = a
	}
	if a, ok := o.args[ParamLinkArgs]; ok {
		p.LinkArgs = a
	}
	if a, ok := o.args[ParamInterpreterArgs]; ok {
		p.InterpreterArgs = a
	}
	if a, ok := o.args[ParamRunArgs]; ok {
		p.RunArgs = a
	}
	if s, ok := o.strs[ParamMainClass]; ok {
		p.MainClass = s
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, fmt.Errorf("must be a non-negative integer")
		}
		return int(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("must be a non-negative integer")
		}
		return n, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil || i < 0 {
			return 0, fmt.Errorf("must be a non-negative integer")
		}
		return i, nil
	default:
		return 0, fmt.Errorf("must be a number")
	}
}

func toArgs(v interface{}) ([]string, error) {
	switch a := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		args, err := shlex.Split(a)
		if err != nil {
			return nil, fmt.Errorf("cannot split arguments: %v", err)
		}
		return args, nil
	case []string:
		return a, nil
	case []interface{}:
		args := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("must be a list of strings")
			}
			// A single element may itself hold several flags, e.g. "-x c".
			parts, err := shlex.Split(s)
			if err != nil {
				return nil, fmt.Errorf("cannot split argument %q: %v", s, err)
			}
			args = append(args, parts...)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("must be a string or a list of strings")
	}
}

func paramError(key, reason string) *appErr.Error {
	return appErr.ValidationError(key, reason).WithMessagef("parameter '%s' %s", key, reason)
}

// splitFlags splits a configured flag string such as javaExtraFlags.
func splitFlags(s string) []string {
	args, err := shlex.Split(s)
	if err != nil {
		return nil
	}
	return args
}
