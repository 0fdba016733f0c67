package triage

import "github.com/rcliao/organism/internal/model"

// Template is a static task list for one input type. Dependencies name
// other tasks in the same template.
type Template []model.Task

func task(action string, typ model.TaskType, deps ...string) model.Task {
	if deps == nil {
		deps = []string{}
	}
	return model.Task{Action: action, Type: typ, Dependencies: deps}
}

// DefaultTemplates maps every input type to its task template.
func DefaultTemplates() map[model.InputType]Template {
	return map[model.InputType]Template{
		model.InputRecipeCompare: {
			task("gather_recipes", model.TaskRetrieval),
			task("extract_core", model.TaskAnalysis, "gather_recipes"),
			task("identify_variations", model.TaskAnalysis, "gather_recipes"),
			task("detect_bloat", model.TaskValidation, "extract_core"),
			task("format_comparison", model.TaskPresentation, "extract_core", "identify_variations"),
		},
		model.InputQuestion: {
			task("search_knowledge", model.TaskRetrieval),
			task("analyze_question", model.TaskAnalysis),
			task("compose_answer", model.TaskGeneration, "search_knowledge", "analyze_question"),
			task("verify_answer", model.TaskValidation, "compose_answer"),
			task("present_answer", model.TaskPresentation, "compose_answer"),
		},
		model.InputComputation: {
			task("extract_numbers", model.TaskComputation),
			task("compute_result", model.TaskComputation, "extract_numbers"),
			task("verify_result", model.TaskValidation, "compute_result"),
			task("present_result", model.TaskPresentation, "compute_result"),
		},
		model.InputErrorReport: {
			task("find_similar_errors", model.TaskRetrieval),
			task("analyze_error", model.TaskAnalysis, "find_similar_errors"),
			task("validate_fix", model.TaskValidation, "analyze_error"),
			task("store_resolution", model.TaskStorage, "analyze_error"),
			task("report_findings", model.TaskPresentation, "analyze_error"),
		},
		model.InputCommand: {
			task("check_preconditions", model.TaskValidation),
			task("run_command", model.TaskGeneral, "check_preconditions"),
			task("store_outcome", model.TaskStorage, "run_command"),
			task("confirm_execution", model.TaskPresentation, "run_command"),
		},
		model.InputCreative: {
			task("gather_inspiration", model.TaskRetrieval),
			task("outline_piece", model.TaskGeneration, "gather_inspiration"),
			task("draft_piece", model.TaskGeneration, "outline_piece"),
			task("polish_flourish", model.TaskPresentation),
		},
		model.InputPlanning: {
			task("recall_constraints", model.TaskRetrieval),
			task("break_down_goal", model.TaskAnalysis, "recall_constraints"),
			task("order_steps", model.TaskComputation, "break_down_goal"),
			task("save_plan", model.TaskStorage, "order_steps"),
			task("present_plan", model.TaskPresentation, "order_steps"),
		},
		model.InputDataRequest: {
			task("lookup_records", model.TaskRetrieval),
			task("filter_results", model.TaskAnalysis, "lookup_records"),
			task("present_results", model.TaskPresentation, "filter_results"),
		},
		model.InputConversation: {
			task("recall_context", model.TaskRetrieval),
			task("generate_reply", model.TaskGeneration, "recall_context"),
			task("small_talk_filler", model.TaskGeneration),
		},
	}
}
