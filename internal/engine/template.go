package engine

import "fmt"

// WorkdirPath is the working directory preset in every sandbox container.
// All file paths handled by this package are rooted here.
const WorkdirPath = "/workspace"

// Template selects the base image for a sandbox. The set is closed; anything
// else is rejected at the control API.
type Template string

const (
	TemplateNode   Template = "node"
	TemplatePython Template = "python"
	TemplateStatic Template = "static"
)

var templateImages = map[Template]string{
	TemplateNode:   "node:20-slim",
	TemplatePython: "python:3.12-slim",
	TemplateStatic: "nginx:alpine",
}

func ParseTemplate(value string) (Template, error) {
	t := Template(value)
	if _, ok := templateImages[t]; !ok {
		return "", fmt.Errorf("unknown sandbox template %q", value)
	}

	return t, nil
}

func (t Template) Image() string {
	return templateImages[t]
}
