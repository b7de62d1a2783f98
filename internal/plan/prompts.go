package plan

import "fmt"

// discussionPrompt is handed to the planner during the draft/discussing
// phase, before any task decomposition commits to an orchestrator run.
func discussionPrompt(plan, description, referenceDir string) string {
	return fmt.Sprintf(
		"You are the planning assistant for %q. Discuss scope and approach "+
			"with the user before any work is delegated. The reference "+
			"repository lives at %s. When the plan is settled, say "+
			"\"Goodbye\" to hand off to execution.",
		plan, referenceDir,
	)
}

// orchestratorPrompt names the available worker roster and instructs the
// orchestrator on the bismark-ready/bismark-sent label contract (spec §4.10).
func orchestratorPrompt(plan, description string, maxParallel int) string {
	return fmt.Sprintf(
		"You are the orchestrator for plan %q: %s. Break the plan into "+
			"tasks in the external task store. For each task ready for a "+
			"worker, attach a `repo:<name>` label naming its target "+
			"repository and a `worktree:<slug>` label naming a short branch "+
			"slug, then label the task `bismark-ready`. At most %d tasks "+
			"run at once; the plan engine relabels a dispatched task "+
			"`bismark-sent` for you. Close a task once its worktree is "+
			"ready for review.",
		plan, description, maxParallel,
	)
}

// plannerPrompt is handed to the delegation-phase planner, spawned
// alongside the orchestrator once executePlan actually runs.
func plannerPrompt(plan, description, referenceDir string) string {
	return fmt.Sprintf(
		"You are the planner for %q: %s. Work with the orchestrator to "+
			"emit concrete, independently completable task entries in the "+
			"external task store. The reference repository lives at %s. "+
			"Once task decomposition is complete, say \"Goodbye\".",
		plan, description, referenceDir,
	)
}

// taskWorkerPrompt is handed to each dispatched worker, interactive or
// headless, keyed to the plan's branch strategy (spec §4.10 "Dispatch").
func taskWorkerPrompt(taskID, title, branch string, strategy string) string {
	completion := "Commit your work on this branch; it will be rebased into the plan's feature branch automatically."
	if strategy == "raise_prs" {
		completion = "When done, push this branch and open a pull request; post its URL before exiting."
	}
	return fmt.Sprintf(
		"You are a task worker. Task %s: %q. Your branch is %s. %s "+
			"Say \"Goodbye\" when the task is complete.",
		taskID, title, branch, completion,
	)
}
