// Package logging provides config-driven categorized file-based logging for submarine.
// Logs are written to .submarine/logs/ with separate files per category.
// Logging is controlled by debug_mode in .submarine/config.yaml - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot  Category = "boot"  // Boot/initialization
	CategoryRules Category = "rules" // Rule table loading, playbook resolution

	// Acquisition categories
	CategorySonar     Category = "sonar"     // Entity index lookups
	CategoryPeriscope Category = "periscope" // Common Crawl index queries
	CategoryPlanner   Category = "planner"   // Dive plan construction
	CategoryDiver     Category = "diver"     // WARC byte-range execution
	CategoryTrawler   Category = "trawler"   // Bulk WAT archive processing

	// Analysis categories
	CategoryExtract Category = "extract" // Entity extraction from pages
	CategoryChain   Category = "chain"   // Chain strategy execution

	// Infrastructure categories
	CategoryEvents Category = "events" // Event bus delivery
	CategoryStore  Category = "store"  // Entity store persistence
	CategoryOrder  Category = "order"  // Order parsing, console
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"` // Output structured JSON entries
}

// configFile structure for reading .submarine/config.yaml
type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// StructuredLogEntry represents a JSON log entry for downstream parsing
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`            // Unix milliseconds
	Category  string         `json:"cat"`           // Log category
	Level     string         `json:"lvl"`           // debug/info/warn/error
	Message   string         `json:"msg"`           // Log message
	File      string         `json:"file"`          // Source file (optional)
	Line      int            `json:"line"`          // Source line (optional)
	RequestID string         `json:"req,omitempty"` // Request correlation ID
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".submarine", "logs")

	// Load config first to check if debug mode is enabled
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== submarine logging initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Debug mode: %v", config.DebugMode)
	bootLogger.Info("Log level: %s", config.Level)

	if len(config.Categories) > 0 {
		enabledCount := 0
		for cat, enabled := range config.Categories {
			if enabled {
				enabledCount++
			}
			bootLogger.Debug("Category '%s': %v", cat, enabled)
		}
		bootLogger.Info("Enabled categories: %d/%d", enabledCount, len(config.Categories))
	} else {
		bootLogger.Info("All categories enabled (no category filter)")
	}

	return nil
}

// loadConfig reads the logging config from .submarine/config.yaml
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".submarine", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
// Call this if config changes at runtime.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]any) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// IsJSONFormat returns whether JSON logging is enabled
func IsJSONFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.JSONFormat
}

// WithContext returns a context logger for structured logging
func (l *Logger) WithContext(ctx map[string]any) *ContextLogger {
	return &ContextLogger{logger: l, context: ctx}
}

// ContextLogger provides structured logging with key-value context
type ContextLogger struct {
	logger  *Logger
	context map[string]any
}

func (c *ContextLogger) Debug(format string, args ...any) {
	if c.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.logger.Printf("[DEBUG] %s | ctx=%v", msg, c.context)
}

func (c *ContextLogger) Info(format string, args ...any) {
	if c.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.logger.Printf("[INFO] %s | ctx=%v", msg, c.context)
}

func (c *ContextLogger) Warn(format string, args ...any) {
	if c.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.logger.Printf("[WARN] %s | ctx=%v", msg, c.context)
}

func (c *ContextLogger) Error(format string, args ...any) {
	if c.logger.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.logger.Printf("[ERROR] %s | ctx=%v", msg, c.context)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...any) {
	Get(CategoryBoot).Debug(format, args...)
}

// Rules logs to the rules category
func Rules(format string, args ...any) {
	Get(CategoryRules).Info(format, args...)
}

// RulesDebug logs debug to the rules category
func RulesDebug(format string, args ...any) {
	Get(CategoryRules).Debug(format, args...)
}

// Sonar logs to the sonar category
func Sonar(format string, args ...any) {
	Get(CategorySonar).Info(format, args...)
}

// SonarDebug logs debug to the sonar category
func SonarDebug(format string, args ...any) {
	Get(CategorySonar).Debug(format, args...)
}

// Periscope logs to the periscope category
func Periscope(format string, args ...any) {
	Get(CategoryPeriscope).Info(format, args...)
}

// PeriscopeDebug logs debug to the periscope category
func PeriscopeDebug(format string, args ...any) {
	Get(CategoryPeriscope).Debug(format, args...)
}

// Planner logs to the planner category
func Planner(format string, args ...any) {
	Get(CategoryPlanner).Info(format, args...)
}

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...any) {
	Get(CategoryPlanner).Debug(format, args...)
}

// Diver logs to the diver category
func Diver(format string, args ...any) {
	Get(CategoryDiver).Info(format, args...)
}

// DiverDebug logs debug to the diver category
func DiverDebug(format string, args ...any) {
	Get(CategoryDiver).Debug(format, args...)
}

// Trawler logs to the trawler category
func Trawler(format string, args ...any) {
	Get(CategoryTrawler).Info(format, args...)
}

// TrawlerDebug logs debug to the trawler category
func TrawlerDebug(format string, args ...any) {
	Get(CategoryTrawler).Debug(format, args...)
}

// Extract logs to the extract category
func Extract(format string, args ...any) {
	Get(CategoryExtract).Info(format, args...)
}

// ExtractDebug logs debug to the extract category
func ExtractDebug(format string, args ...any) {
	Get(CategoryExtract).Debug(format, args...)
}

// Chain logs to the chain category
func Chain(format string, args ...any) {
	Get(CategoryChain).Info(format, args...)
}

// ChainDebug logs debug to the chain category
func ChainDebug(format string, args ...any) {
	Get(CategoryChain).Debug(format, args...)
}

// Events logs to the events category
func Events(format string, args ...any) {
	Get(CategoryEvents).Info(format, args...)
}

// EventsDebug logs debug to the events category
func EventsDebug(format string, args ...any) {
	Get(CategoryEvents).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...any) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...any) {
	Get(CategoryStore).Debug(format, args...)
}

// Order logs to the order category
func Order(format string, args ...any) {
	Get(CategoryOrder).Info(format, args...)
}

// OrderDebug logs debug to the order category
func OrderDebug(format string, args ...any) {
	Get(CategoryOrder).Debug(format, args...)
}

// =============================================================================
// WARN/ERROR CONVENIENCE FUNCTIONS
// =============================================================================

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...any) {
	Get(CategoryBoot).Warn(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...any) {
	Get(CategoryBoot).Error(format, args...)
}

// RulesWarn logs warning to the rules category
func RulesWarn(format string, args ...any) {
	Get(CategoryRules).Warn(format, args...)
}

// RulesError logs error to the rules category
func RulesError(format string, args ...any) {
	Get(CategoryRules).Error(format, args...)
}

// SonarWarn logs warning to the sonar category
func SonarWarn(format string, args ...any) {
	Get(CategorySonar).Warn(format, args...)
}

// SonarError logs error to the sonar category
func SonarError(format string, args ...any) {
	Get(CategorySonar).Error(format, args...)
}

// PeriscopeWarn logs warning to the periscope category
func PeriscopeWarn(format string, args ...any) {
	Get(CategoryPeriscope).Warn(format, args...)
}

// PeriscopeError logs error to the periscope category
func PeriscopeError(format string, args ...any) {
	Get(CategoryPeriscope).Error(format, args...)
}

// PlannerWarn logs warning to the planner category
func PlannerWarn(format string, args ...any) {
	Get(CategoryPlanner).Warn(format, args...)
}

// PlannerError logs error to the planner category
func PlannerError(format string, args ...any) {
	Get(CategoryPlanner).Error(format, args...)
}

// DiverWarn logs warning to the diver category
func DiverWarn(format string, args ...any) {
	Get(CategoryDiver).Warn(format, args...)
}

// DiverError logs error to the diver category
func DiverError(format string, args ...any) {
	Get(CategoryDiver).Error(format, args...)
}

// TrawlerWarn logs warning to the trawler category
func TrawlerWarn(format string, args ...any) {
	Get(CategoryTrawler).Warn(format, args...)
}

// TrawlerError logs error to the trawler category
func TrawlerError(format string, args ...any) {
	Get(CategoryTrawler).Error(format, args...)
}

// ExtractWarn logs warning to the extract category
func ExtractWarn(format string, args ...any) {
	Get(CategoryExtract).Warn(format, args...)
}

// ExtractError logs error to the extract category
func ExtractError(format string, args ...any) {
	Get(CategoryExtract).Error(format, args...)
}

// ChainWarn logs warning to the chain category
func ChainWarn(format string, args ...any) {
	Get(CategoryChain).Warn(format, args...)
}

// ChainError logs error to the chain category
func ChainError(format string, args ...any) {
	Get(CategoryChain).Error(format, args...)
}

// EventsWarn logs warning to the events category
func EventsWarn(format string, args ...any) {
	Get(CategoryEvents).Warn(format, args...)
}

// EventsError logs error to the events category
func EventsError(format string, args ...any) {
	Get(CategoryEvents).Error(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...any) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...any) {
	Get(CategoryStore).Error(format, args...)
}

// OrderWarn logs warning to the order category
func OrderWarn(format string, args ...any) {
	Get(CategoryOrder).Warn(format, args...)
}

// OrderError logs error to the order category
func OrderError(format string, args ...any) {
	Get(CategoryOrder).Error(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - For correlating work across a single run
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]any
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]any),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value any) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) formatMsg(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[req:%s] %s | %v", r.requestID, msg, r.fields)
	}
	return fmt.Sprintf("[req:%s] %s", r.requestID, msg)
}

func (r *RequestLogger) Debug(format string, args ...any) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logger.Printf("[DEBUG] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...any) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logger.Printf("[INFO] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...any) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logger.Printf("[WARN] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...any) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logger.Printf("[ERROR] %s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
