package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"
)

type testTable struct{ rows [][]string }

func (t testTable) Header() []string { return []string{"HOST", "STATUS"} }
func (t testTable) Rows() [][]string { return t.rows }

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{format: "", want: "*cli.TextFormatter"},
		{format: FormatText, want: "*cli.TextFormatter"},
		{format: FormatJSON, want: "*cli.JSONFormatter"},
		{format: FormatCSV, want: "*cli.CSVFormatter"},
		{format: "junit", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if tt.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) || cfgErr.Field != "output" {
					t.Errorf("error = %v, want ConfigError on output", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := typeName(f); got != tt.want {
				t.Errorf("formatter = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	}
	return "unknown"
}

func TestFormatters(t *testing.T) {
	table := testTable{rows: [][]string{
		{"example.test", "200"},
		{"a,b.test", "502"},
	}}

	tests := []struct {
		name      string
		formatter Formatter
		data      any
		want      string
		wantErr   bool
	}{
		{
			name:      "text value",
			formatter: &TextFormatter{},
			data:      "plain",
			want:      "plain\n",
		},
		{
			name:      "text table",
			formatter: &TextFormatter{},
			data:      table,
			want:      "HOST          STATUS\nexample.test  200\na,b.test      502\n",
		},
		{
			name:      "csv table",
			formatter: &CSVFormatter{},
			data:      table,
			want:      "HOST,STATUS\nexample.test,200\n\"a,b.test\",502\n",
		},
		{
			name:      "csv needs a table",
			formatter: &CSVFormatter{},
			data:      map[string]int{"a": 1},
			wantErr:   true,
		},
		{
			name:      "compact json",
			formatter: &JSONFormatter{},
			data:      map[string]int{"a": 1},
			want:      "{\"a\":1}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := tt.formatter.FormatTo(&buf, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && buf.String() != tt.want {
				t.Errorf("FormatTo() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONFormatter_Indent(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{Indent: true}).FormatTo(&buf, map[string]string{"key": "value"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\n  \"key\"") {
		t.Errorf("output not indented: %q", buf.String())
	}
	var decoded map[string]string
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded["key"] != "value" {
		t.Errorf("decoded = %v, %v", decoded, err)
	}
}

func TestErrors(t *testing.T) {
	cfgErr := NewConfigError("server.port", "must be positive")
	if cfgErr.Error() != "config error in server.port: must be positive" {
		t.Errorf("ConfigError = %q", cfgErr.Error())
	}

	cause := errors.New("bind: address in use")
	cmdErr := NewCommandError("run", cause)
	if cmdErr.Error() != "command run failed: bind: address in use" {
		t.Errorf("CommandError = %q", cmdErr.Error())
	}
	if !errors.Is(cmdErr, cause) {
		t.Error("errors.Is should see the wrapped cause")
	}
}

func TestSignalContext(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal")
	default:
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestSignalContext_Stop(t *testing.T) {
	ctx, stop := SignalContext(context.Background())
	stop()
	select {
	case <-ctx.Done():
	default:
		t.Error("stop should cancel the context")
	}
}
