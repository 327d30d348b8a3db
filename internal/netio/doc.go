// Package netio provides the network endpoints the 802.1X engine
// consumes: a raw AF_PACKET endpoint bound to the PAE EtherType for
// EAPOL frames, and a UDP endpoint toward the RADIUS server.
//
// The endpoints are deliberately thin: they move frames and datagrams
// and report link state. All protocol validation happens in the engine
// so that malformed input is counted per port instead of erroring here.
package netio
