package registry

import (
	"net/http"

	"github.com/dukex/flowpilot/pkg/nodes/conditional"
	"github.com/dukex/flowpilot/pkg/nodes/httprequest"
	"github.com/dukex/flowpilot/pkg/nodes/log"
)

// RegisterDefaultNodes registers the built-in executors.
func (r *Registry) RegisterDefaultNodes(client *http.Client) {
	r.Register(conditional.NewExecutor())
	r.Register(log.NewExecutor())
	r.Register(httprequest.NewExecutor(client))
}
