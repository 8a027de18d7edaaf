package output

import "odatacheck/internal/rules"

const testService = "https://example.com/odata/"

func result(id string, v rules.Verdict) rules.Result {
	return rules.Result{Service: testService, RuleID: id, Level: rules.LevelMust, Verdict: v}
}

func failing(id, msg string, details ...rules.Detail) rules.Result {
	r := result(id, rules.VerdictFail)
	r.Message = msg
	r.Details = details
	return r
}
