package internal

import (
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestMethodName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"Standard function", "github.com/zhengshuai-xiao/RelayS/pkg/egress.(*Streamer).Serve", "Serve"},
		{"Method with pointer receiver", "github.com/zhengshuai-xiao/RelayS/pkg/bundle.(*Bundler).appendEntry", "appendEntry"},
		{"Anonymous function", "github.com/zhengshuai-xiao/RelayS/pkg/bundle.(*Bundler).Stream.func1", "Stream"},
		{"Simple function", "main.main", "main"},
		{"No package path", "MyFunction", "MyFunction"},
		{"Empty string", "", ""},
		{"Just a dot", ".", "."},
		{"Leading dot", ".some.package", "package"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := MethodName(tc.input)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.TraceLevel, ParseLogLevel("trace"))
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warn"))
	assert.Equal(t, logrus.ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("info"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("verbose"))
}

func TestFormat(t *testing.T) {
	l := newLogger("format")
	l.colorful = false
	e := &logrus.Entry{
		Time:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "bucket missing\n",
		Caller:  &runtime.Frame{Function: "github.com/zhengshuai-xiao/RelayS/pkg/ingest.(*Ingestor).Ingest", File: "/src/pkg/ingest/ingest.go", Line: 42},
	}
	out, err := l.Format(e)
	assert.NoError(t, err)
	want := fmt.Sprintf("2024/05/01 12:00:00.000000 format[%d] <WARNING>: bucket missing [Ingest@ingest.go:42]\n", os.Getpid())
	assert.Equal(t, want, string(out))

	assert.Equal(t, "\033[1;31mERROR\033[0m", levelLabel(logrus.ErrorLevel, true))
}
