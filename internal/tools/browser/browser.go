// Package browser implements web page retrieval through the sandbox. The
// browser itself runs inside the sandbox: a generated playwright script is
// staged into the workspace and executed one-shot, so no network request ever
// originates from the host process.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jkaninda/sanduku/internal/sandbox"
	"github.com/jkaninda/sanduku/internal/tools"
)

// scriptPath is where the generated playwright script is staged.
const scriptPath = sandbox.WorkspaceTemp + "/_browser_script.py"

// browseTimeout bounds one navigation including browser startup.
const browseTimeout = 60 * time.Second

// pageResult is the JSON the generated script prints on stdout.
type pageResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Tool fetches and extracts web page content via an in-sandbox browser.
type Tool struct {
	executor *tools.Executor
	logger   *slog.Logger
}

// NewTool creates the browse tool.
func NewTool(executor *tools.Executor, logger *slog.Logger) *Tool {
	return &Tool{executor: executor, logger: logger}
}

func (t *Tool) Name() string { return "browse" }
func (t *Tool) Description() string {
	return "Load a web page in a headless browser inside the sandbox and return its text content. " +
		"An optional CSS selector narrows extraction to matching elements."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":      map[string]any{"type": "string", "description": "URL to load (http or https)"},
			"selector": map[string]any{"type": "string", "description": "CSS selector to extract; default is the page body"},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	rawURL, err := tools.RequireString(params, "url")
	if err != nil {
		return err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q (http or https only)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL %q has no host", rawURL)
	}
	return nil
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if err := t.Validate(params); err != nil {
		return nil, err
	}
	rawURL, _ := tools.RequireString(params, "url")
	selector := tools.OptionalString(params, "selector")

	t.logger.InfoContext(ctx, "browse tool executing",
		slog.String("url", rawURL),
		slog.String("selector", selector),
	)

	script, err := buildScript(rawURL, selector)
	if err != nil {
		return nil, err
	}

	sbx := t.executor.Sandbox()
	if err := sbx.WriteFile(ctx, scriptPath, script); err != nil {
		return tools.Errorf("staging browser script: %v", err), nil
	}

	result, err := t.executor.Run(ctx, "python3 "+scriptPath, sandbox.RunOptions{
		Timeout: browseTimeout,
	})
	if err != nil {
		return tools.Errorf("browser execution failed: %v", err), nil
	}
	if !result.Success() {
		return &tools.Result{
			Status:   tools.StatusError,
			Error:    fmt.Sprintf("browser exited with code %d", result.ExitCode),
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
		}, nil
	}

	var page pageResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Stdout)), &page); err != nil {
		return tools.Errorf("parsing browser output: %v", err), nil
	}

	return &tools.Result{
		Status:  tools.StatusSuccess,
		URL:     page.URL,
		Title:   page.Title,
		Content: t.executor.Truncate(page.Content),
	}, nil
}

// buildScript generates the playwright script for one navigation. The URL is
// embedded as a JSON string literal (valid Python too) and the selector is
// escaped by hand — both originate from the collaborator and must never be
// able to break out of their string literals.
func buildScript(rawURL, selector string) (string, error) {
	urlLit, err := json.Marshal(rawURL)
	if err != nil {
		return "", fmt.Errorf("encoding URL: %w", err)
	}

	extract := "page.inner_text(\"body\")"
	if selector != "" {
		extract = fmt.Sprintf(`"\n\n".join(el.inner_text() for el in page.query_selector_all("%s"))`,
			escapeSelector(selector))
	}

	script := `import json
from playwright.sync_api import sync_playwright

with sync_playwright() as p:
    browser = p.chromium.launch(headless=True)
    page = browser.new_page()
    page.goto(` + string(urlLit) + `, wait_until="load")
    content = ` + extract + `
    print(json.dumps({"url": page.url, "title": page.title(), "content": content}))
    browser.close()
`
	return script, nil
}

// escapeSelector makes a selector safe inside a double-quoted Python string.
func escapeSelector(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return r.Replace(s)
}
