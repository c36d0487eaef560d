package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline observability spans and metrics.
var (
	AttrAgentUUID = attribute.Key("agent.uuid")
	AttrAgentType = attribute.Key("agent.type")
	AttrStepCount = attribute.Key("pipeline.step_count")
	AttrDidRun    = attribute.Key("pipeline.did_run")
	AttrStatus    = attribute.Key("pipeline.status")
)
