package tools

// Builtins returns the default built-in tool set rooted at workspace.
func Builtins(workspace string) []Tool {
	return []Tool{
		NewShellTool(workspace),
		NewReadFileTool(workspace),
		NewWriteFileTool(workspace),
		NewApplyPatchTool(workspace),
		NewDeleteFileTool(workspace),
		NewSearchTextTool(workspace),
		NewListDirTool(workspace),
		NewWebFetchTool(),
		NewDelegateTool(),
	}
}
