package agents

import "github.com/veriflow/backend/internal/core"

// IndividualAgents is the fan-out set for an individual verification,
// run in parallel after data acquisition.
func IndividualAgents(env *Env) []Agent {
	return []Agent{
		NewInitialDiligence(env),
		NewGovtIdVerification(env),
		NewIdSelfieVerification(env),
		NewAamvaVerification(env),
		NewEmailPhoneIpVerification(env),
		NewPaymentBehavior(env),
		NewLoginActivities(env),
		NewSiftVerification(env),
		NewIdCheck(env),
		NewOfacVerification(env),
	}
}

// BusinessAgents is the fan-out set for a business verification.
func BusinessAgents(env *Env) []Agent {
	return []Agent{
		NewNormalDiligence(env),
		NewIrsMatch(env),
		NewSosFilings(env),
		NewEinLetter(env),
		NewArticlesIncorporation(env),
	}
}

// ByType resolves one agent by its type name, for single-agent jobs.
func ByType(env *Env, agentType string) (Agent, bool) {
	if agentType == core.AgentDataAcquisition {
		return NewDataAcquisition(env), true
	}
	for _, a := range IndividualAgents(env) {
		if a.Type() == agentType {
			return a, true
		}
	}
	for _, a := range BusinessAgents(env) {
		if a.Type() == agentType {
			return a, true
		}
	}
	return nil, false
}
