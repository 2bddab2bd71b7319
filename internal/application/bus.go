package application

// MessageBus is a publish/subscribe transport such as an MQTT broker.
type MessageBus interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler func(payload []byte)) error
	Close()
}
