package mailbox

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for mailbox extensions.
// Plugins observe committed state changes to add behaviour such as
// notifications, auditing or resuming a suspended job.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// HandleHook is called after a message is handled.
type HandleHook interface {
	Plugin
	// AfterHandle runs once per message, for the caller that made the
	// transition. The transition has committed and cannot be rolled back;
	// a returned error is logged.
	AfterHandle(ctx context.Context, workspaceID string, msg *Message) error
}

// DeleteHook is called after a message is deleted.
type DeleteHook interface {
	Plugin
	// AfterDelete runs for each removed message after the delete commits.
	// A returned error is logged.
	AfterDelete(ctx context.Context, workspaceID string, msg *Message) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all     []Plugin
	handle  []HandleHook
	deletes []DeleteHook
	logger  *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(HandleHook); ok {
		r.handle = append(r.handle, h)
	}
	if h, ok := p.(DeleteHook); ok {
		r.deletes = append(r.deletes, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Hook execution helpers. Every hook runs even if an earlier one fails.

func (r *pluginRegistry) afterHandle(ctx context.Context, workspaceID string, msg *Message) {
	for _, h := range r.handle {
		if err := h.AfterHandle(ctx, workspaceID, msg); err != nil {
			r.logger.Error("plugin hook failed",
				"error", &PluginError{Plugin: h.Name(), Op: "AfterHandle", Err: err},
				"workspace_id", workspaceID, "message_id", msg.ID)
		}
	}
}

func (r *pluginRegistry) afterDelete(ctx context.Context, workspaceID string, msg *Message) {
	for _, h := range r.deletes {
		if err := h.AfterDelete(ctx, workspaceID, msg); err != nil {
			r.logger.Error("plugin hook failed",
				"error", &PluginError{Plugin: h.Name(), Op: "AfterDelete", Err: err},
				"workspace_id", workspaceID, "message_id", msg.ID)
		}
	}
}
