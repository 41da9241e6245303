package ping

import (
	"math/rand/v2"

	"github.com/miekg/dns"
)

// pingQueryName is queried on every synthetic ping. The .invalid TLD is
// reserved by RFC 2606 and never resolves, so the query carries no load on
// real infrastructure beyond the upstream's own recursive resolver.
const pingQueryName = "healthcheck.quproxy.invalid."

// targetPacketSize is the ~500 byte wire size spec.md asks for; padding is
// added via an EDNS0 local-use option until the packed message reaches it.
const targetPacketSize = 500

// ednsLocalOptionCode is in the IANA "Reserved for Local/Experimental Use"
// range (65001-65534), safe for an option no resolver will interpret.
const ednsLocalOptionCode = 65001

// buildQuery packs a single-question A query carrying transaction id tid,
// padded with random EDNS0 option content to targetPacketSize bytes.
func buildQuery(tid uint16) ([]byte, error) {
	m := new(dns.Msg)
	m.Id = tid
	m.RecursionDesired = true
	m.SetQuestion(pingQueryName, dns.TypeA)

	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	m.Extra = append(m.Extra, opt)

	base, err := m.Pack()
	if err != nil {
		return nil, err
	}
	// The option's own 4-byte code+length header also counts toward the size.
	padLen := targetPacketSize - len(base) - 4
	if padLen < 0 {
		padLen = 0
	}
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(rand.IntN(256))
	}
	opt.Option = []dns.EDNS0{&dns.EDNS0_LOCAL{Code: ednsLocalOptionCode, Data: pad}}

	return m.Pack()
}

// parseReplyID extracts the transaction id from a reply packet already
// known to be >= 12 bytes. Returns ok=false on any unpack failure.
func parseReplyID(data []byte) (id uint16, ok bool) {
	var m dns.Msg
	if err := m.Unpack(data); err != nil {
		return 0, false
	}
	return m.Id, true
}

func randomTID() uint16 {
	return uint16(rand.IntN(1 << 16))
}
