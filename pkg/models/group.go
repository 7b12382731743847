package models

// Group is a workspace directory identity holding a per-group system
// prompt, long-term user model file, skills, and IPC namespace. Exactly
// one group is designated "main" and carries elevated knowledge-write
// privileges (spec §3, Open Question 1 resolved in DESIGN.md).
type Group struct {
	Name          string `json:"name"` // unique
	IsMain        bool   `json:"is_main"`
	WorkspacePath string `json:"workspace_path"`
	SystemPrompt  string `json:"system_prompt"`
	UserModelPath string `json:"user_model_path"`
	SkillsPath    string `json:"skills_path"`
	IPCNamespace  string `json:"ipc_namespace"`
}
