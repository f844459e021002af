package dispatch

import (
	"fmt"
	"strings"
)

// ShopfloorPlaceholder is replaced by the shopfloor ID in InstructionTopic.
const ShopfloorPlaceholder = "{shopfloor}"

// Config defines the topics of the dispatch channel.
type Config struct {
	// InstructionTopic is a template containing {shopfloor}.
	InstructionTopic string `json:"instruction_topic"`
	ReportTopic      string `json:"report_topic"`
	HeartbeatTopic   string `json:"heartbeat_topic"`
	// InboundBuffer is the capacity of the queue between transport callbacks
	// and the consumer goroutine.
	InboundBuffer int `json:"inbound_buffer"`
}

// SetDefaults fills the topics used by the shopfloor controllers.
func (c *Config) SetDefaults() {
	if c.InstructionTopic == "" {
		c.InstructionTopic = ShopfloorPlaceholder + "/instruction"
	}
	if c.ReportTopic == "" {
		c.ReportTopic = "shopfloor/report"
	}
	if c.HeartbeatTopic == "" {
		c.HeartbeatTopic = "shopfloor/heartbeat"
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 256
	}
}

// Validate checks the topic configuration.
func (c Config) Validate() error {
	if !strings.Contains(c.InstructionTopic, ShopfloorPlaceholder) {
		return fmt.Errorf("dispatch: instruction_topic must contain %s", ShopfloorPlaceholder)
	}
	if c.ReportTopic == "" || c.HeartbeatTopic == "" {
		return fmt.Errorf("dispatch: report_topic and heartbeat_topic are required")
	}
	if c.ReportTopic == c.HeartbeatTopic {
		return fmt.Errorf("dispatch: report and heartbeat topics must differ")
	}
	return nil
}

// InstructionTopicFor returns the instruction topic of a shopfloor.
func (c Config) InstructionTopicFor(shopfloor string) string {
	return strings.ReplaceAll(c.InstructionTopic, ShopfloorPlaceholder, shopfloor)
}
