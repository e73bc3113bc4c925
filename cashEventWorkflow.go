package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"bitbucket.org/vetmanager/caja_backend/config"
	"bitbucket.org/vetmanager/caja_backend/utils"
	"bitbucket.org/vetmanager/caja_backend/workflow"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

var (
	clinicMutexMap = make(map[string]*sync.Mutex)
	globalMutex    = &sync.Mutex{}
)

// RunCashEventSubscriber starts the pull subscription for inbound sale events.
// Deployments behind a Pub/Sub push endpoint use /pubsub instead; both paths
// end in ProcessCashEventMessage, so a clinic fed by both never double-posts.
func RunCashEventSubscriber() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	// Create a callback function to handle messages.
	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.CashEventMessage{}
		err := json.Unmarshal(msg.Data, &m)
		if err != nil {
			config.LogError(logger, "cashEventWorkflow.go", "RunCashEventSubscriber", "Unmarshaling pubsub message", msg.Data, err)
			// Malformed payload never heals: ack/drop.
			msg.Ack()
			return
		}
		if m.ClinicId == "" || m.ReferenceType == "" || m.DrawerId <= 0 {
			config.LogError(logger, "cashEventWorkflow.go", "RunCashEventSubscriber", "Invalid pubsub message (missing required fields)", m, errors.New("missing clinic_id, reference_type or drawer_id"))
			msg.Ack()
			return
		}

		// Get or create the mutex for the current ClinicId
		globalMutex.Lock()
		mutex, exists := clinicMutexMap[m.ClinicId]
		if !exists {
			mutex = &sync.Mutex{}
			clinicMutexMap[m.ClinicId] = mutex
		}
		globalMutex.Unlock()

		// Lock the specific clinic mutex
		mutex.Lock()
		defer mutex.Unlock()

		correlationID := m.CorrelationId
		if correlationID == "" {
			correlationID = msg.ID
		}
		// Dedup key must match the push endpoint: external payment id first.
		messageId := m.ReferenceId
		if messageId == "" {
			messageId = msg.ID
		}

		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)
		if err := workflow.ProcessCashEventMessage(ctx, logger, messageId, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "CashEventSubscriber",
				"clinic_id":      m.ClinicId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	// Receive messages.
	go func() {
		err := sub.Receive(ctx, callback)

		if err != nil {
			config.LogError(logger, "cashEventWorkflow.go", "RunCashEventSubscriber", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}
