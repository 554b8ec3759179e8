package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventsExchange = "warehouse.events"

	StockCommandRoutingKey   = "warehouse.stock.command.v1"
	ProductCreatedRoutingKey = "warehouse.product.created.v1"
	StockChangedRoutingKey   = "warehouse.stock.changed.v1"
	StockRejectedRoutingKey  = "warehouse.stock.rejected.v1"

	warehouseServiceName = "warehouse-service-go"
)

func serviceQueue(serviceName, routingKey string) string {
	return serviceName + "." + routingKey
}

func warehouseQueueName(routingKey string) string {
	return serviceQueue(warehouseServiceName, routingKey)
}

func deadLetterQueueName(queue string) string {
	return queue + ".dlq"
}

// Dial connects to RabbitMQ.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareEventsExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		EventsExchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

// declareQueueWithDLQ declares queue bound to routingKey on the events exchange
// and a plain durable dead-letter queue next to it.
func declareQueueWithDLQ(ch *amqp.Channel, queue, routingKey string) error {
	dlq := deadLetterQueueName(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", queue, err)
	}
	return nil
}
