package core

// TriggerKind identifies what caused a dispatch.
type TriggerKind string

const (
	TriggerFileChanged TriggerKind = "file_changed"
	TriggerFileDeleted TriggerKind = "file_deleted"
	TriggerWorkspace   TriggerKind = "workspace"
)

// Trigger is an event that may cause adapter invocations.
// Path is empty for workspace triggers.
type Trigger struct {
	Kind TriggerKind
	Path string
}

// FileChanged returns a trigger for a saved or modified file.
func FileChanged(path string) Trigger {
	return Trigger{Kind: TriggerFileChanged, Path: path}
}

// FileDeleted returns a trigger for a removed file.
func FileDeleted(path string) Trigger {
	return Trigger{Kind: TriggerFileDeleted, Path: path}
}

// Workspace returns a workspace-scoped trigger.
func Workspace() Trigger {
	return Trigger{Kind: TriggerWorkspace}
}
