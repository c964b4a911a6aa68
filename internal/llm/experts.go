package llm

import (
	"fmt"

	"github.com/loomworks/loom/internal/common"
)

// Workflow node names the gateway routes on
const (
	NodeCartographer = "cartographer"
	NodeVision       = "vision"
	NodeCritic       = "critic"
	NodeSynthesizer  = "synthesizer"
	NodeSaver        = "saver"
	NodeReframing    = "reframing"
)

// route binds a node to its primary expert endpoint and an optional
// fallback used for exactly one retry.
type route struct {
	primary  *common.ExpertEndpointConfig
	fallback *common.ExpertEndpointConfig // nil = no fallback
}

// buildRoutes constructs the routing table. Extraction-class nodes fall
// back to Brain; the Critic runs on Brain alone so review verdicts always
// come from the same model.
func buildRoutes(experts *common.ExpertsConfig) map[string]route {
	return map[string]route{
		NodeCartographer: {primary: &experts.Worker, fallback: &experts.Brain},
		NodeSaver:        {primary: &experts.Worker, fallback: &experts.Brain},
		NodeVision:       {primary: &experts.Vision},
		NodeCritic:       {primary: &experts.Brain},
		NodeSynthesizer:  {primary: &experts.Drafter, fallback: &experts.Brain},
		NodeReframing:    {primary: &experts.Brain},
	}
}

// resolveRoute looks up the route for a node name
func resolveRoute(routes map[string]route, nodeName string) (route, error) {
	r, ok := routes[nodeName]
	if !ok {
		return route{}, fmt.Errorf("no expert route for node %q", nodeName)
	}
	return r, nil
}
