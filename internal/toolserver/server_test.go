package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nishaddevendra/pdf-qa-core/internal/apperr"
)

func echoCatalogue() map[string]ToolDef {
	return map[string]ToolDef{
		"echo": {
			Name:     "echo",
			Required: []string{"text"},
			Handler: func(ctx context.Context, args json.RawMessage) (any, *apperr.Error) {
				var in struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, apperr.New(apperr.BadInput, err.Error())
				}
				return map[string]string{"text": in.Text}, nil
			},
		},
		"fail": {
			Name: "fail",
			Handler: func(ctx context.Context, args json.RawMessage) (any, *apperr.Error) {
				return nil, apperr.New(apperr.ExtractFailed, "boom")
			},
		},
	}
}

// runServer feeds input lines to a Server and returns the decoded responses,
// one per input line, in the order the server wrote them (handlers run
// concurrently, so this need not be the input order).
func runServer(t *testing.T, lines []string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer

	srv := New(in, &out, echoCatalogue(), ServerInfo{Name: "test-server", Version: "0.0.1"}, time.Second)

	done := make(chan int, 1)
	go func() { done <- srv.Run() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after stdin EOF")
	}

	var responses []Response
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestToolsListReportsServerInfo(t *testing.T) {
	responses := runServer(t, []string{`{"jsonrpc":"2.0","id":"1","method":"tools/list"}`})
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)

	data, err := json.Marshal(responses[0].Result)
	require.NoError(t, err)
	var result ListResult
	require.NoError(t, json.Unmarshal(data, &result))

	require.Equal(t, "test-server", result.ServerInfo.Name)
	require.Equal(t, "0.0.1", result.ServerInfo.Version)
	require.Len(t, result.Tools, 2)
}

func TestToolsCallSuccess(t *testing.T) {
	responses := runServer(t, []string{
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
	})
	require.Len(t, responses, 1)
	require.Nil(t, responses[0].Error)
}

func TestUnknownMethodReturnsDashedCode(t *testing.T) {
	responses := runServer(t, []string{`{"jsonrpc":"2.0","id":"1","method":"bogus/method"}`})
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, CodeUnknownMethod, responses[0].Error.Code)
}

func TestUnknownToolNameReturnsUnknownMethodCode(t *testing.T) {
	responses := runServer(t, []string{
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"nonexistent","arguments":{}}}`,
	})
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, CodeUnknownMethod, responses[0].Error.Code)
}

func TestMissingRequiredArgumentReturnsInvalidParams(t *testing.T) {
	responses := runServer(t, []string{
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"echo","arguments":{}}}`,
	})
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, CodeInvalidParams, responses[0].Error.Code)
}

func TestToolFailureReturnsStructuredData(t *testing.T) {
	responses := runServer(t, []string{
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"fail","arguments":{}}}`,
	})
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	require.Equal(t, CodeToolFailure, responses[0].Error.Code)

	data, err := json.Marshal(responses[0].Error.Data)
	require.NoError(t, err)
	var appErr apperr.Error
	require.NoError(t, json.Unmarshal(data, &appErr))
	require.Equal(t, apperr.ExtractFailed, appErr.Kind)
}

func TestEachResponseIsOneLine(t *testing.T) {
	lines := []string{
		`{"jsonrpc":"2.0","id":"1","method":"tools/call","params":{"name":"echo","arguments":{"text":"a"}}}`,
		`{"jsonrpc":"2.0","id":"2","method":"tools/call","params":{"name":"echo","arguments":{"text":"b"}}}`,
		`{"jsonrpc":"2.0","id":"3","method":"tools/list"}`,
	}
	responses := runServer(t, lines)
	require.Len(t, responses, len(lines), "exactly one response line per request line")
}
