package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/visiona/camlink/internal/control"
)

// sendCommand publishes a control command to the target agent and waits
// for the matching acknowledgement on its events topic.
func sendCommand(command string, params map[string]interface{}) (*control.Response, error) {
	controlTopic := fmt.Sprintf("camlink/control/%s", instanceID)
	eventsTopic := fmt.Sprintf("camlink/events/%s", instanceID)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(fmt.Sprintf("camlinkctl-%s", uuid.New().String()[:8])).
		SetConnectTimeout(timeout)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(timeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", brokerURL, token.Error())
	}
	defer client.Disconnect(250)

	responses := make(chan control.Response, 8)
	token := client.Subscribe(eventsTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var resp control.Response
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			return
		}
		responses <- resp
	})
	if token.WaitTimeout(timeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventsTopic, token.Error())
	}

	payload, err := json.Marshal(control.Command{Command: command, Params: params})
	if err != nil {
		return nil, err
	}
	if token := client.Publish(controlTopic, 1, false, payload); token.WaitTimeout(timeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to publish command: %w", token.Error())
	}

	deadline := time.After(timeout)
	for {
		select {
		case resp := <-responses:
			// The events topic also carries telemetry; match on the ack.
			if resp.CommandAck == command {
				return &resp, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no response from %s within %s", instanceID, timeout)
		}
	}
}

// runCommand sends the command and prints the response, exiting non-zero
// when the agent reports an error.
func runCommand(command string, params map[string]interface{}) {
	resp, err := sendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if resp.Status != "success" {
		os.Exit(1)
	}
}
