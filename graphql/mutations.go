// Package graphql holds the default GraphQL documents sent by the client operations.
//
// Each generator takes an optional response query. When it is empty the default selection set
// is used; otherwise the given selection set replaces it.
package graphql

import "strings"

const defaultCreateEtchPacketResponse = `{
    id
    eid
    name
    status
    isTest
    detailsURL
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

const defaultForgeSubmitResponse = `{
    id
    eid
    payloadValue
    currentStep
    completedAt
    createdAt
    updatedAt
    signer {
      name
      email
      status
      routingOrder
    }
    weldData {
      id
      eid
      isTest
      isComplete
      agents
    }
  }`

// CreateEtchPacket returns the createEtchPacket mutation.
func CreateEtchPacket(responseQuery string) string {
	return `mutation CreateEtchPacket (
  $name: String,
  $files: [EtchFile!],
  $isDraft: Boolean,
  $isTest: Boolean,
  $mergePDFs: Boolean,
  $signatureEmailSubject: String,
  $signatureEmailBody: String,
  $signatureProvider: String,
  $signaturePageOptions: JSON,
  $signers: [JSON!],
  $webhookURL: String,
  $replyToName: String,
  $replyToEmail: String,
  $data: JSON,
  $enableEmails: JSON,
  $createCastTemplatesFromUploads: Boolean,
  $duplicateCasts: Boolean
) {
  createEtchPacket (
    name: $name,
    files: $files,
    isDraft: $isDraft,
    isTest: $isTest,
    mergePDFs: $mergePDFs,
    signatureEmailSubject: $signatureEmailSubject,
    signatureEmailBody: $signatureEmailBody,
    signatureProvider: $signatureProvider,
    signaturePageOptions: $signaturePageOptions,
    signers: $signers,
    webhookURL: $webhookURL,
    replyToName: $replyToName,
    replyToEmail: $replyToEmail,
    data: $data,
    enableEmails: $enableEmails,
    createCastTemplatesFromUploads: $createCastTemplatesFromUploads,
    duplicateCasts: $duplicateCasts
  ) ` + selection(responseQuery, defaultCreateEtchPacketResponse) + `
}`
}

// GenerateEtchSignURL returns the generateEtchSignURL mutation. Its result is a scalar, so
// there is no selection set to override.
func GenerateEtchSignURL() string {
	return `mutation GenerateEtchSignURL (
  $signerEid: String!,
  $clientUserId: String!
) {
  generateEtchSignURL (
    signerEid: $signerEid,
    clientUserId: $clientUserId
  )
}`
}

// RemoveWeldData returns the removeWeldData mutation.
func RemoveWeldData() string {
	return `mutation RemoveWeldData (
  $eid: String!
) {
  removeWeldData (
    eid: $eid
  )
}`
}

// ForgeSubmit returns the forgeSubmit mutation.
func ForgeSubmit(responseQuery string) string {
	return `mutation ForgeSubmit (
  $forgeEid: String!,
  $weldDataEid: String,
  $submissionEid: String,
  $payload: JSON!,
  $currentStep: Int,
  $complete: Boolean,
  $isTest: Boolean,
  $timezone: String,
  $groupArrayId: String,
  $groupArrayIndex: Int,
  $webhookURL: String
) {
  forgeSubmit (
    forgeEid: $forgeEid,
    weldDataEid: $weldDataEid,
    submissionEid: $submissionEid,
    payload: $payload,
    currentStep: $currentStep,
    complete: $complete,
    isTest: $isTest,
    timezone: $timezone,
    groupArrayId: $groupArrayId,
    groupArrayIndex: $groupArrayIndex,
    webhookURL: $webhookURL
  ) ` + selection(responseQuery, defaultForgeSubmitResponse) + `
}`
}

func selection(override, fallback string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	return fallback
}
