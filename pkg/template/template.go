// Package template interpolates ${{ ... }} expressions in step fields.
// Expressions use the same language as step conditions and see the matrix
// cell and run identity of the executing job.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var placeholder = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// Render substitutes every ${{ expr }} placeholder in input. Inputs without
// placeholders come back untouched.
func Render(input string, data map[string]any) (string, error) {
	if !strings.Contains(input, "${{") {
		return input, nil
	}

	var firstErr error

	rendered := placeholder.ReplaceAllStringFunc(input, func(match string) string {
		expression := strings.TrimSpace(placeholder.FindStringSubmatch(match)[1])

		value, err := evaluate(expression, data)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		return value
	})

	if firstErr != nil {
		return "", firstErr
	}

	return rendered, nil
}

// RenderMap renders every value of a string map, leaving keys alone.
func RenderMap(input, data map[string]any) (map[string]any, error) {
	if len(input) == 0 {
		return input, nil
	}

	rendered := make(map[string]any, len(input))

	for key, value := range input {
		text, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := Render(text, data)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

// RenderStringMap renders every value of a map[string]string.
func RenderStringMap(input map[string]string, data map[string]any) (map[string]string, error) {
	if len(input) == 0 {
		return input, nil
	}

	rendered := make(map[string]string, len(input))

	for key, value := range input {
		out, err := Render(value, data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

func evaluate(expression string, data map[string]any) (string, error) {
	program, err := expr.Compile(expression, expr.Env(data))
	if err != nil {
		return "", fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := expr.Run(program, data)
	if err != nil {
		return "", fmt.Errorf("expression %q failed: %w", expression, err)
	}

	return stringify(result), nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
