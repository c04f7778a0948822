// Package observability exposes the service's meters through the Prometheus
// endpoint.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

const (
	attrMethod  = "method"
	attrRoute   = "route"
	attrStatus  = "status"
	attrSurvey  = "survey_type"
	attrStep    = "step"
	attrSuccess = "success"
	attrOutcome = "outcome"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// Routes arrive as gin templates (/api/v2/surveys/:job_id/status), so the
// cardinality is already bounded.
func routeAttr(route string) attribute.KeyValue {
	return attribute.String(attrRoute, route)
}

func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func surveyAttr(surveyType string) attribute.KeyValue {
	return attribute.String(attrSurvey, surveyType)
}

func stepAttr(step string) attribute.KeyValue {
	return attribute.String(attrStep, step)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func outcomeAttr(status types.JobStatus) attribute.KeyValue {
	return attribute.String(attrOutcome, string(status))
}
