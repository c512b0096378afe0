// Copyright 2015 Ka-Hing Cheung
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/aws/smithy-go/logging"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*logHandle)

var framePlaceHolder = runtime.Frame{Function: "???", File: "???", Line: 0}

type logHandle struct {
	logrus.Logger

	name     string
	logid    string
	pid      int
	lvl      *logrus.Level
	colorful bool
}

var levelColors = map[logrus.Level]int{
	logrus.PanicLevel: 31,
	logrus.FatalLevel: 31,
	logrus.ErrorLevel: 31,
	logrus.WarnLevel:  33,
	logrus.InfoLevel:  34,
	logrus.DebugLevel: 35,
	logrus.TraceLevel: 35,
}

func levelLabel(lvl logrus.Level, colorful bool) string {
	label := strings.ToUpper(lvl.String())
	if !colorful {
		return label
	}
	return fmt.Sprintf("\033[1;%dm%s\033[0m", levelColors[lvl], label)
}

// Format renders "<logid>time name[pid] <LEVEL>: message [func@file:line]".
func (l *logHandle) Format(e *logrus.Entry) ([]byte, error) {
	lvl := e.Level
	if l.lvl != nil {
		lvl = *l.lvl
	}
	caller := e.Caller
	if caller == nil {
		caller = &framePlaceHolder
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s[%d] <%s>: %s [%s@%s:%d]",
		l.logid,
		e.Time.Format("2006/01/02 15:04:05.000000"),
		l.name,
		l.pid,
		levelLabel(lvl, l.colorful),
		strings.TrimRight(e.Message, "\n"),
		MethodName(caller.Function),
		path.Base(caller.File),
		caller.Line)
	if len(e.Data) != 0 {
		fmt.Fprintf(&b, " %v", e.Data)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// MethodName shortens a runtime function name to the method it belongs to.
// Closures and numbered init functions report their enclosing function.
func MethodName(fullFuncName string) string {
	if i := strings.Index(fullFuncName, "/"); i != -1 && i < len(fullFuncName)-1 {
		fullFuncName = fullFuncName[i+1:]
	}
	return lastSymbol(fullFuncName)
}

func lastSymbol(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot == -1 || dot == len(name)-1 {
		return name
	}
	symbol := name[dot+1:]
	if generated(symbol) {
		if parent := lastSymbol(name[:dot]); parent != "" {
			return parent
		}
	}
	return symbol
}

// generated matches compiler made names such as func1 or the 3 of init.3.
func generated(symbol string) bool {
	if strings.HasPrefix(symbol, "func") && len(symbol) > 4 {
		return symbol[4] >= '0' && symbol[4] <= '9'
	}
	return len(symbol) == 1 && symbol[0] >= '0' && symbol[0] <= '9'
}

// Printf lets a logHandle stand in for minio-go and redis trace loggers.
func (l *logHandle) Printf(format string, args ...interface{}) {
	l.Debugf(format, args...)
}

// Logf lets a logHandle serve as the aws-sdk-go-v2 client logger.
func (l *logHandle) Logf(classification logging.Classification, format string, args ...interface{}) {
	if classification == logging.Warn {
		l.Warnf(format, args...)
		return
	}
	l.Debugf(format, args...)
}

func newLogger(name string) *logHandle {
	l := &logHandle{Logger: *logrus.New(), name: name, pid: os.Getpid()}
	l.colorful = isatty.IsTerminal(os.Stderr.Fd())
	l.Formatter = l
	l.SetReportCaller(true)
	return l
}

// GetLogger returns a logger mapped to `name`
func GetLogger(name string) *logHandle {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[name]; ok {
		return logger
	}
	logger := newLogger(name)
	loggers[name] = logger
	return logger
}

// SetLogLevel sets Level to all the loggers in the map
func SetLogLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.Level = lvl
	}
}

func DisableLogColor() {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.colorful = false
	}
}

func SetOutFile(name string) {
	// rotated daily as "name.20060102", with "name" linking to the newest file
	logf, err := rotatelogs.New(
		name+".%Y%m%d",
		rotatelogs.WithLinkName(name),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)

	if err != nil {
		logrus.Fatalf("Failed to open log file %s: %v", name, err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.SetOutput(logf)
		logger.colorful = false
	}
}

func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.SetOutput(w)
	}
}

func SetLogID(id string) {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.logid = id
	}
}

func GetDefaultLogDir() string {
	var defaultLogDir = "/var/log"
	switch runtime.GOOS {
	case "linux":
		if os.Getuid() == 0 {
			break
		}
		fallthrough
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Warn(err)
			homeDir = defaultLogDir
		}
		defaultLogDir = path.Join(homeDir, ".relays")
	case "windows":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defaultLogDir = path.Join(homeDir, ".relays")
	}
	return defaultLogDir
}

// ParseLogLevel maps the --loglevel flag values onto logrus levels.
// Unknown values fall back to info.
func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
