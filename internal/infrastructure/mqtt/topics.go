package mqtt

import "net/url"

// Topic scheme for the runtime's MQTT surface.
//
// Address keys contain "/" (group addresses) and ":" (IKOs), so the
// address segment is URL-escaped to keep it a single MQTT level:
//
//	graylogic/telegram/1%2F1%2F1     value changes per address
//	graylogic/system/status          online/offline status (retained)
//
// Subscribers that want everything use Telegrams() with a wildcard.

// topicRoot is the namespace prefix for all runtime topics.
const topicRoot = "graylogic"

// Topics builds MQTT topic strings. The zero value is ready to use.
type Topics struct{}

// Telegram returns the topic for one address's value changes.
func (Topics) Telegram(addressKey string) string {
	return topicRoot + "/telegram/" + url.PathEscape(addressKey)
}

// Telegrams returns the wildcard matching every telegram topic.
func (Topics) Telegrams() string {
	return topicRoot + "/telegram/+"
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return topicRoot + "/system/status"
}

// AddressFromTelegramTopic recovers the address key from a telegram
// topic. Returns false for foreign topics.
func AddressFromTelegramTopic(topic string) (string, bool) {
	const prefix = topicRoot + "/telegram/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	key, err := url.PathUnescape(topic[len(prefix):])
	if err != nil {
		return "", false
	}
	return key, true
}
