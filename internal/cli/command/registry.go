package command

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// Registry returns all CLI commands keyed by verb.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "languages",
			Method:       http.MethodGet,
			PathTemplate: "/languages",
			Usage:        "languages",
		},
		{
			Name:         "run",
			Method:       http.MethodPost,
			PathTemplate: "/runs",
			Args:         []string{"language", "file"},
			Options:      []string{"input", "debug", "cputime", "memorylimit", "files"},
			Usage:        "run <language> <file> [input=<file>] [debug=true] [cputime=<secs>] [memorylimit=<MB>] [files=<id>:<name>,...]",
		},
		{
			Name:         "put",
			Method:       http.MethodPut,
			PathTemplate: "/files/:id",
			Args:         []string{"file"},
			Options:      []string{"id"},
			Usage:        "put <file> [id=<id>]",
		},
		{
			Name:         "check",
			Method:       http.MethodHead,
			PathTemplate: "/files/:id",
			Args:         []string{"id"},
			Usage:        "check <id>",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// BuildRequest creates the HTTP request for cmd. A put without an id gets the
// md5 of the file contents, written back into params.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	var payload interface{}
	var err error
	switch cmd.Name {
	case "run":
		payload, err = buildRunPayload(params)
	case "put":
		payload, err = buildPutPayload(params)
	}
	if err != nil {
		return RequestSpec{}, err
	}

	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}
	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	file := params.Get("file")
	source, err := ReadFile(file)
	if err != nil {
		return nil, err
	}
	spec := map[string]interface{}{
		"language_id":    strings.ToLower(params.Get("language")),
		"sourcecode":     source,
		"sourcefilename": filepath.Base(file),
	}
	if params.Get("input") != "" {
		input, err := ReadFile(params.Get("input"))
		if err != nil {
			return nil, err
		}
		spec["input"] = input
	}
	if params.Has("debug") {
		debug, err := strconv.ParseBool(params.Get("debug"))
		if err != nil {
			return nil, fmt.Errorf("invalid debug: %w", err)
		}
		spec["debug"] = debug
	}

	parameters := map[string]interface{}{}
	for _, key := range []string{"cputime", "memorylimit"} {
		if !params.Has(key) {
			continue
		}
		n, err := ParseInt(params.Get(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parameters[key] = n
	}
	if len(parameters) > 0 {
		spec["parameters"] = parameters
	}

	if params.Get("files") != "" {
		var fileList [][]string
		for _, item := range ParseStringList(params.Get("files")) {
			id, name, ok := strings.Cut(item, ":")
			if !ok || id == "" || name == "" {
				return nil, fmt.Errorf("invalid file entry %q, want <id>:<name>", item)
			}
			fileList = append(fileList, []string{id, name})
		}
		spec["file_list"] = fileList
	}
	return map[string]interface{}{"run_spec": spec}, nil
}

func buildPutPayload(params Params) (interface{}, error) {
	contents, err := ReadFile(params.Get("file"))
	if err != nil {
		return nil, err
	}
	if params.Get("id") == "" {
		sum := md5.Sum([]byte(contents))
		params.Set("id", hex.EncodeToString(sum[:]))
	}
	return map[string]string{
		"file_contents": base64.StdEncoding.EncodeToString([]byte(contents)),
	}, nil
}
