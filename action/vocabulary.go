package action

import "github.com/jxucoder/livecoder/model"

// Action names.
const (
	UpdateCode        = "update_code"
	ModifyCodeSection = "modify_code_section"
	AddCodeBlock      = "add_code_block"
	ExecuteCode       = "execute_code"
	StopAudio         = "stop_audio"
	GetCurrentState   = "get_current_state"
)

// Add positions for add_code_block.
const (
	PositionBefore  = "before"
	PositionAfter   = "after"
	PositionReplace = "replace"
)

var vocabulary = []model.ActionDescriptor{
	{
		Name:        UpdateCode,
		Description: "Replace the current script in the editor with new code",
		Parameters: map[string]model.ParamSpec{
			"code":        {Type: "string", Description: "The complete script to put in the editor", Required: true},
			"explanation": {Type: "string", Description: "Brief explanation of what the code does"},
		},
	},
	{
		Name:        ModifyCodeSection,
		Description: "Modify a specific section of the existing code",
		Parameters: map[string]model.ParamSpec{
			"targetSection": {Type: "string", Description: "The existing code section to find and replace", Required: true},
			"newSection":    {Type: "string", Description: "The new code to replace the target section with", Required: true},
			"explanation":   {Type: "string", Description: "Brief explanation of the modification"},
		},
	},
	{
		Name:        AddCodeBlock,
		Description: "Add a new code block to the existing code",
		Parameters: map[string]model.ParamSpec{
			"codeBlock":   {Type: "string", Description: "The new code block to add", Required: true},
			"position":    {Type: "string", Description: `Where to add the code: "before", "after", or "replace"`},
			"explanation": {Type: "string", Description: "Brief explanation of what the new code does"},
		},
	},
	{
		Name:        ExecuteCode,
		Description: "Execute the current code in the editor",
		Parameters:  map[string]model.ParamSpec{},
	},
	{
		Name:        StopAudio,
		Description: "Stop all currently playing audio and dispose sandbox objects",
		Parameters:  map[string]model.ParamSpec{},
	},
	{
		Name:        GetCurrentState,
		Description: "Get the current script, whether it is running, and the last 3 executions",
		Parameters:  map[string]model.ParamSpec{},
	},
}

// Vocabulary returns a copy of the static action vocabulary in a stable order.
func Vocabulary() []model.ActionDescriptor {
	out := make([]model.ActionDescriptor, len(vocabulary))
	for i, d := range vocabulary {
		params := make(map[string]model.ParamSpec, len(d.Parameters))
		for k, v := range d.Parameters {
			params[k] = v
		}
		d.Parameters = params
		out[i] = d
	}
	return out
}

// Describe returns the descriptor for name.
func Describe(name string) (model.ActionDescriptor, bool) {
	for _, d := range Vocabulary() {
		if d.Name == name {
			return d, true
		}
	}
	return model.ActionDescriptor{}, false
}

// Mutating reports whether name is one of the script-mutating actions.
func Mutating(name string) bool {
	switch name {
	case UpdateCode, ModifyCodeSection, AddCodeBlock:
		return true
	}
	return false
}
