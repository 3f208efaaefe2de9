package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"crm-forwarder/internal/config"
	"crm-forwarder/internal/models"
)

// ErrEventRejected is returned when a transform drops an event: a JavaScript
// function returning null or undefined, or (never for rules) a nil result.
var ErrEventRejected = errors.New("event rejected by transformer")

// Transformer rewrites change events before they are forwarded, driven either
// by a JavaScript script or by YAML rules.
type Transformer struct {
	config   *config.ProcessorConfig
	logger   *logrus.Logger
	rules    []*RuleMatcher
	jsScript string // Cached script content
}

// RuleMatcher matches and applies one transformation rule.
type RuleMatcher struct {
	entity    string
	message   string
	include   map[string]bool
	exclude   map[string]bool
	rename    map[string]string
	addFields map[string]string
}

// NewTransformer creates a transformer from processor configuration.
func NewTransformer(cfg *config.ProcessorConfig, logger *logrus.Logger) (*Transformer, error) {
	transformer := &Transformer{
		config: cfg,
		logger: logger,
		rules:  []*RuleMatcher{},
	}
	if cfg == nil || !cfg.Enabled {
		return transformer, nil
	}

	// Load JavaScript script if specified
	if cfg.Script != "" {
		scriptContent, err := os.ReadFile(cfg.Script)
		if err != nil {
			return nil, fmt.Errorf("failed to read JavaScript script file: %w", err)
		}

		if err := validateScript(string(scriptContent)); err != nil {
			return nil, fmt.Errorf("invalid JavaScript script: %w", err)
		}

		transformer.jsScript = string(scriptContent)
		logger.Infof("Loaded JavaScript transformation script: %s", cfg.Script)
	}

	// Load YAML-based rules if specified
	for _, rule := range cfg.Rules {
		matcher := &RuleMatcher{
			entity:    rule.Entity,
			message:   rule.Message,
			include:   make(map[string]bool),
			exclude:   make(map[string]bool),
			rename:    rule.Rename,
			addFields: rule.AddFields,
		}
		for _, field := range rule.Include {
			matcher.include[strings.ToLower(field)] = true
		}
		for _, field := range rule.Exclude {
			matcher.exclude[strings.ToLower(field)] = true
		}
		transformer.rules = append(transformer.rules, matcher)
	}

	return transformer, nil
}

// validateScript checks that the script evaluates to a function, either an
// anonymous function expression or a named 'transform' function.
func validateScript(scriptContent string) error {
	vm := goja.New()

	result, err := vm.RunString(scriptContent)
	if err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}

	if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
		if _, ok := goja.AssertFunction(result); ok {
			return nil
		}
	}

	transformVar := vm.Get("transform")
	if transformVar != nil && !goja.IsUndefined(transformVar) && !goja.IsNull(transformVar) {
		if _, ok := goja.AssertFunction(transformVar); ok {
			return nil
		}
	}

	return fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
}

// Transform applies the configured transformation to a change event.
func (t *Transformer) Transform(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	if t.config == nil || !t.config.Enabled {
		return event, nil
	}

	// JavaScript takes precedence over YAML rules
	if t.jsScript != "" {
		return t.transformWithScript(event)
	}

	if len(t.rules) > 0 {
		return t.transformWithRules(event), nil
	}

	return event, nil
}

// transformWithScript runs the JavaScript transform. goja runtimes are not
// safe for concurrent use, so each event gets a fresh one.
func (t *Transformer) transformWithScript(event *models.ChangeEvent) (*models.ChangeEvent, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	vm := goja.New()
	if err := setupConsoleBindings(vm, t.logger); err != nil {
		return nil, fmt.Errorf("failed to setup console bindings: %w", err)
	}

	scriptResult, err := vm.RunString(t.jsScript)
	if err != nil {
		return nil, fmt.Errorf("failed to execute JavaScript script: %w", err)
	}

	var callable goja.Callable
	var ok bool
	if scriptResult != nil && !goja.IsUndefined(scriptResult) && !goja.IsNull(scriptResult) {
		callable, ok = goja.AssertFunction(scriptResult)
	}
	if !ok {
		transformVar := vm.Get("transform")
		if transformVar != nil && !goja.IsUndefined(transformVar) && !goja.IsNull(transformVar) {
			callable, ok = goja.AssertFunction(transformVar)
		}
	}
	if !ok {
		return nil, fmt.Errorf("script must export a function (either anonymous function or named 'transform' function)")
	}

	if err := vm.Set("eventJSON", string(eventJSON)); err != nil {
		return nil, fmt.Errorf("failed to set event JSON: %w", err)
	}
	eventObj, err := vm.RunString("JSON.parse(eventJSON)")
	if err != nil {
		return nil, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	result, err := callable(goja.Undefined(), eventObj)
	if err != nil {
		return nil, fmt.Errorf("JavaScript transform function error: %w", err)
	}

	// null/undefined means drop the event
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		t.logger.Infof("Event rejected by JavaScript transformer: %s %s", event.MessageName, event.LogicalName)
		return nil, ErrEventRejected
	}

	resultJSON, err := json.Marshal(result.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	transformed := &models.ChangeEvent{}
	if err := json.Unmarshal(resultJSON, transformed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	t.logger.Debugf("Transformed event: %s %s", transformed.MessageName, transformed.LogicalName)
	return transformed, nil
}

// transformWithRules applies the first matching YAML rule to the attribute
// map. No match leaves the event untouched.
func (t *Transformer) transformWithRules(event *models.ChangeEvent) *models.ChangeEvent {
	var matchedRule *RuleMatcher
	for _, rule := range t.rules {
		if rule.matches(event.LogicalName, event.MessageName) {
			matchedRule = rule
			break
		}
	}
	if matchedRule == nil {
		return event
	}

	transformed := &models.ChangeEvent{
		UserID:      event.UserID,
		MessageName: event.MessageName,
		LogicalName: event.LogicalName,
		ID:          event.ID,
		OccurredAt:  event.OccurredAt,
		Attributes:  make(map[string]interface{}),
	}

	// Add static fields first
	for key, value := range matchedRule.addFields {
		transformed.Attributes[key] = value
	}

	for key, value := range event.Attributes {
		keyLower := strings.ToLower(key)

		if len(matchedRule.exclude) > 0 && matchedRule.exclude[keyLower] {
			continue
		}
		if len(matchedRule.include) > 0 && !matchedRule.include[keyLower] {
			continue
		}

		outputKey := key
		if newName, ok := matchedRule.rename[keyLower]; ok {
			outputKey = newName
		}
		transformed.Attributes[outputKey] = value
	}

	return transformed
}

// matches checks if a rule matches the given logical name and message.
func (r *RuleMatcher) matches(logicalName, messageName string) bool {
	if r.entity != "" && !strings.EqualFold(r.entity, logicalName) {
		return false
	}
	if r.message != "" && !strings.EqualFold(r.message, messageName) {
		return false
	}
	return true
}

// setupConsoleBindings exposes console logging to the script.
func setupConsoleBindings(vm *goja.Runtime, logger *logrus.Logger) error {
	consoleObj := vm.NewObject()

	formatArgs := func(call goja.FunctionCall) string {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		return fmt.Sprint(args...)
	}

	bindings := map[string]func(string, ...interface{}){
		"log":   func(f string, a ...interface{}) { logger.Infof(f, a...) },
		"info":  func(f string, a ...interface{}) { logger.Infof(f, a...) },
		"warn":  func(f string, a ...interface{}) { logger.Warnf(f, a...) },
		"error": func(f string, a ...interface{}) { logger.Errorf(f, a...) },
		"debug": func(f string, a ...interface{}) { logger.Debugf(f, a...) },
	}
	for name, log := range bindings {
		log := log
		fn := func(call goja.FunctionCall) goja.Value {
			log("%s", formatArgs(call))
			return goja.Undefined()
		}
		if err := consoleObj.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", name, err)
		}
	}

	if err := vm.Set("console", consoleObj); err != nil {
		return fmt.Errorf("failed to set console object: %w", err)
	}
	return nil
}

// ValidateRules validates processor configuration before the transformer is
// built.
func ValidateRules(cfg *config.ProcessorConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	if cfg.Script != "" {
		if _, err := os.Stat(cfg.Script); os.IsNotExist(err) {
			return fmt.Errorf("JavaScript script file not found: %s", cfg.Script)
		}
	}

	if cfg.Script != "" && len(cfg.Rules) > 0 {
		return fmt.Errorf("cannot specify both 'script' and 'rules' - script takes precedence")
	}

	for i, rule := range cfg.Rules {
		if len(rule.Include) > 0 && len(rule.Exclude) > 0 {
			return fmt.Errorf("processor rule %d: cannot specify both 'include' and 'exclude' fields", i)
		}

		if len(rule.Rename) > 0 && len(rule.Include) > 0 {
			for oldName := range rule.Rename {
				found := false
				for _, inc := range rule.Include {
					if strings.EqualFold(inc, oldName) {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("processor rule %d: rename key '%s' not found in include list", i, oldName)
				}
			}
		}
	}

	return nil
}
