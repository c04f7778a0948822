// Package notify pushes terminal job states to the survey crew over SMS.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/aliyun/alibaba-cloud-sdk-go/services/dysmsapi"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

type SmsNotifier struct {
	client       *dysmsapi.Client
	signName     string
	templateCode string
	phoneNumbers string
}

func NewSmsNotifier(cfg config.SmsConfig) (*SmsNotifier, error) {
	client, err := dysmsapi.NewClientWithAccessKey(cfg.RegionId, cfg.AccessKeyId, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("create sms client: %w", err)
	}
	return &SmsNotifier{
		client:       client,
		signName:     cfg.SignName,
		templateCode: cfg.TemplateCode,
		phoneNumbers: cfg.PhoneNumbers,
	}, nil
}

// JobFinished sends one message per terminal job. Failures are the caller's
// to log; a lost SMS never affects the job itself.
func (n *SmsNotifier) JobFinished(jobID string, status types.JobStatus) error {
	req := dysmsapi.CreateSendSmsRequest()
	req.Scheme = "https"
	req.PhoneNumbers = n.phoneNumbers
	req.SignName = n.signName
	req.TemplateCode = n.templateCode
	req.TemplateParam = buildTemplateParam(jobID, status)

	resp, err := n.client.SendSms(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	if resp.Code != "OK" {
		return fmt.Errorf("sms gateway rejected send: %s (%s)", resp.Code, resp.Message)
	}
	return nil
}

// The template has a narrow job column, so only the first UUID group goes in.
func buildTemplateParam(jobID string, status types.JobStatus) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	param, _ := json.Marshal(map[string]string{
		"job":    short,
		"status": string(status),
	})
	return string(param)
}
