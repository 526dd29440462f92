package graphql

const defaultEtchPacketResponse = `{
    id
    eid
    name
    status
    isTest
    numberRemainingSigners
    detailsURL
    webhookURL
    documentGroup {
      id
      eid
      status
      files
      signers {
        id
        eid
        aliasId
        routingOrder
        name
        email
        status
        signActionType
      }
    }
  }`

// EtchPacket returns the etchPacket query.
func EtchPacket(responseQuery string) string {
	return `query EtchPacket (
  $eid: String!
) {
  etchPacket (
    eid: $eid
  ) ` + selection(responseQuery, defaultEtchPacketResponse) + `
}`
}
