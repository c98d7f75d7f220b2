package workflows

import (
	"encoding/json"
	"reflect"

	"github.com/chainsharp/scheduler/internal/workflowengine"
)

// ExtractTxInput/Output and DQTxInput/Output back scenario 5 (§8): an
// interval-scheduled extract workflow that, on finding anomalies,
// activates its dormant_dependent data-quality child at runtime with
// the anomaly count as input.

type ExtractTxInput struct {
	SourceID string `json:"sourceId"`
}

type ExtractTxOutput struct {
	AnomalyCount int `json:"anomalyCount"`
}

// dqTxActivation is the runtime-chosen input handed to the dormant
// child, matching the §8 scenario's {anomalyCount: 7} literally.
type dqTxActivation struct {
	AnomalyCount int `json:"anomalyCount"`
}

func NewExtractTxWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("extract", workflowengine.StepExtract,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			in := workflowengine.BagMustGet[ExtractTxInput](bag)
			anomalies := detectAnomalies(in.SourceID)
			workflowengine.BagSet(bag, ExtractTxOutput{AnomalyCount: anomalies})

			if anomalies == 0 {
				return nil
			}
			payload, err := json.Marshal(dqTxActivation{AnomalyCount: anomalies})
			if err != nil {
				return err
			}
			return rc.Dormant.Activate(rc.Ctx, "dq-"+in.SourceID, payload)
		})
	return workflowengine.New("extract_tx", reflect.TypeOf(ExtractTxInput{}), reflect.TypeOf(ExtractTxOutput{}), run)
}

// detectAnomalies is a placeholder scan; real deployments would wire
// an actual data-quality check here.
func detectAnomalies(sourceID string) int {
	return len(sourceID)
}

type DQTxInput struct {
	AnomalyCount int `json:"anomalyCount"`
}

type DQTxOutput struct {
	Remediated int `json:"remediated"`
}

func NewDQTxWorkflow() *workflowengine.Workflow {
	run := workflowengine.NewFuncStep("dq", workflowengine.StepPlain,
		func(rc workflowengine.RequestContext, bag *workflowengine.MemoryBag) error {
			in := workflowengine.BagMustGet[DQTxInput](bag)
			workflowengine.BagSet(bag, DQTxOutput{Remediated: in.AnomalyCount})
			return nil
		})
	return workflowengine.New("dq_tx", reflect.TypeOf(DQTxInput{}), reflect.TypeOf(DQTxOutput{}), run)
}
