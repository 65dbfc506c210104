package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite tests the log package
type LoggerTestSuite struct {
	suite.Suite
	originalLogger zerolog.Logger
	testOutput     *bytes.Buffer
}

// SetupTest swaps the package logger for one writing JSON into a buffer
func (s *LoggerTestSuite) SetupTest() {
	s.originalLogger = Logger
	s.testOutput = &bytes.Buffer{}
	Logger = newLogger(zerolog.SyncWriter(s.testOutput), zerolog.DebugLevel)
}

// TearDownTest restores the original logger
func (s *LoggerTestSuite) TearDownTest() {
	Logger = s.originalLogger
}

func (s *LoggerTestSuite) lines() []map[string]interface{} {
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(s.testOutput.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		s.Require().NoError(json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func (s *LoggerTestSuite) TestGoroutineIDIsNumeric() {
	id := goroutineID()
	s.NotEmpty(id)
	s.LessOrEqual(len(id), 20)
	if id != "unknown" {
		for _, char := range id {
			s.True(char >= '0' && char <= '9', "goroutine id should be numeric or 'unknown'")
		}
	}
}

func (s *LoggerTestSuite) TestGoroutineIDStableWithinGoroutine() {
	s.Equal(goroutineID(), goroutineID())
}

func (s *LoggerTestSuite) TestGoroutineIDDiffersAcrossGoroutines() {
	mainID := goroutineID()
	done := make(chan string, 1)
	go func() { done <- goroutineID() }()
	otherID := <-done

	if mainID != "unknown" && otherID != "unknown" {
		s.NotEqual(mainID, otherID)
	}
}

func (s *LoggerTestSuite) TestLevelsCarryGoid() {
	Debug().Msg("debug test")
	Info().Msg("info test")
	Warn().Msg("warn test")
	Error().Msg("error test")

	entries := s.lines()
	s.Require().Len(entries, 4)
	levels := []string{"debug", "info", "warn", "error"}
	for i, entry := range entries {
		s.Equal(levels[i], entry["level"])
		s.NotEmpty(entry["goid"])
	}
}

func (s *LoggerTestSuite) TestLogWithFields() {
	Info().Str("service", "orders").Msg("registered")

	entries := s.lines()
	s.Require().Len(entries, 1)
	s.Equal("orders", entries[0]["service"])
	s.Equal("registered", entries[0]["message"])
}

func (s *LoggerTestSuite) TestSetLevel() {
	s.True(SetLevel("warn"))
	s.Equal(zerolog.WarnLevel, Logger.GetLevel())

	Info().Msg("dropped")
	Warn().Msg("kept")
	s.NotContains(s.testOutput.String(), "dropped")
	s.Contains(s.testOutput.String(), "kept")

	s.True(SetLevel(" DEBUG "))
	s.Equal(zerolog.DebugLevel, Logger.GetLevel())
}

func (s *LoggerTestSuite) TestSetLevelUnknown() {
	s.False(SetLevel("chatty"))
	s.False(SetLevel(""))
	s.Equal(zerolog.DebugLevel, Logger.GetLevel())
}

func (s *LoggerTestSuite) TestSetDebugMode() {
	Logger = Logger.Level(zerolog.ErrorLevel)
	SetDebugMode()
	s.Equal(zerolog.DebugLevel, Logger.GetLevel())
}

func (s *LoggerTestSuite) TestSetJSONOutputKeepsLevel() {
	Logger = Logger.Level(zerolog.WarnLevel)
	buf := &bytes.Buffer{}
	SetJSONOutput(buf)

	s.Equal(zerolog.WarnLevel, Logger.GetLevel())
	Warn().Msg("to json")
	s.Contains(buf.String(), `"message":"to json"`)
	s.Contains(buf.String(), `"goid"`)
}

func (s *LoggerTestSuite) TestRetryLoggerFields() {
	var rl RetryLogger
	rl.Error("request failed", "method", "GET", "url", "http://a/x", 42, "ignored-key")
	rl.Info("retrying", "attempt", 2)

	entries := s.lines()
	s.Require().Len(entries, 2)
	s.Equal("error", entries[0]["level"])
	s.Equal("GET", entries[0]["method"])
	s.Equal("http://a/x", entries[0]["url"])
	s.Equal("info", entries[1]["level"])
	s.EqualValues(2, entries[1]["attempt"])
}

func (s *LoggerTestSuite) TestRetryLoggerDemotesWarn() {
	Logger = Logger.Level(zerolog.InfoLevel)
	var rl RetryLogger
	rl.Warn("noisy warning")
	rl.Debug("noisy debug")
	s.Empty(strings.TrimSpace(s.testOutput.String()))
}

func (s *LoggerTestSuite) TestConcurrentLogging() {
	numGoroutines := 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()
			Info().Int("worker", id).Msg("concurrent log message")
		}(i)
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	s.Contains(s.testOutput.String(), "concurrent log message")
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
