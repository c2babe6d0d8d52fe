// Package messages defines the payload types delivered over the shared
// topic exchange.
//
// The set is closed: a message is either an HttpPullMessage (the
// credentials and request context a consumer needs to fetch data
// itself) or an HttpPushMessage (an opaque body a counterparty pushed
// to the consumer). Pull messages carry the transfer process id used
// for correlation; push messages have no id and can only be matched by
// arrival order.
package messages
