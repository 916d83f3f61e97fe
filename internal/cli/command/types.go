package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Command binds a REPL verb to one REST call.
type Command struct {
	Name         string
	Method       string
	PathTemplate string
	// Args are positional, in order. Options are key=value pairs.
	Args    []string
	Options []string
	Usage   string
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
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

// Parse binds the tokens after the verb to cmd's arguments and options.
func Parse(cmd Command, tokens []string) (Params, error) {
	params := Params{}
	pos := 0
	for _, token := range tokens {
		if key, value, ok := strings.Cut(token, "="); ok && cmd.hasOption(key) {
			params.Set(key, value)
			continue
		}
		if pos >= len(cmd.Args) {
			return nil, fmt.Errorf("unexpected argument %q, usage: %s", token, cmd.Usage)
		}
		params.Set(cmd.Args[pos], token)
		pos++
	}
	if pos < len(cmd.Args) {
		return nil, fmt.Errorf("missing %s, usage: %s", cmd.Args[pos], cmd.Usage)
	}
	return params, nil
}

func (c Command) hasOption(key string) bool {
	for _, opt := range c.Options {
		if strings.EqualFold(opt, key) {
			return true
		}
	}
	return false
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ParseStringList(value string) []string {
	raw := strings.Split(value, ",")
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}
