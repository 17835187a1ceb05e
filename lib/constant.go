package lib

// Flags holds TCP control bits in their wire positions (byte 13 of the header).
type Flags uint8

// Flag constants
const (
	URGFlag Flags = 1 << 5
	ACKFlag Flags = 1 << 4
	PSHFlag Flags = 1 << 3
	RSTFlag Flags = 1 << 2
	SYNFlag Flags = 1 << 1
	FINFlag Flags = 1 << 0
)

const (
	TcpHeaderLength       = 20 //options not included
	TcpPseudoHeaderLength = 12
	IpHeaderLength        = 20 // outgoing IPv4 headers carry no options
	DefaultMaxFrameSize   = 1500
	DefaultWindow         = 10
	DefaultTTL            = 64
)
