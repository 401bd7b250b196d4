// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package graph

// DefaultSchema is the baseline DQL schema applied to a fresh network
// namespace. The username upsert index is load-bearing: it is the
// store-side guarantee against duplicate accounts when the same name is
// minted as both an existing uid and a fresh blank node in one run.
const DefaultSchema = `
username: string @index(exact) @upsert .
larynxBalance: int .
spkBalance: int .
spkbBalance: int .
spkPower: int .
brocaBalance: int .
broca: string .
brocaAmount: int .
brocaLastUpdate: int .
brocaPower: int .
claimableLarynx: int .
claimableBroca: int .
claimableSpk: int .
liquidBroca: int .
storageBroca: int .
validatorBroca: int .
noMention: int .
power: int .
powerGranted: int .
powerGranting: int .
spkVote: string .
spkVoteChoices: string .
contracts: string .
publicKey: string .
authorityData: string .
lastUpdateBlock: int .

contractId: string @index(exact) @upsert .
purchaser: uid @reverse .
owner: uid @reverse .
status: int .
statusText: string .
authorized: int .
broker: string .
contractPower: int .
refunded: int .
utilized: int .
verified: int .
nodeTotal: int .
fileCount: int .
isUnderstored: bool .
expiresBlock: int .
expiresChronId: string .
metadata: string .
autoRenew: bool .
blockNumber: int .
encryptionKeys: [uid] .
storageNodes: [uid] .
extensions: [uid] .

cid: string @index(exact) @upsert .
size: int .
name: string @index(term) .
extension: string .
mimeType: string .
flags: int .
license: string .
labels: string .
thumbnail: string .
path: string .
contract: uid @reverse .
contractBlockNumber: int .

fullPath: string @index(exact) .
pathName: string .
pathType: string .
itemCount: int .
parent: uid @reverse .
children: [uid] .
currentFile: uid .
newestBlockNumber: int .

sharedWith: uid .
encryptedKey: string .
keyType: string .
nodeSlot: string .
paidBy: uid .
startBlock: int .
endBlock: int .

provider: uid @reverse .
serviceType: string @index(exact) .
api: string .
enabled: int .
memo: string .
ipfsId: string .
cost: int .

validatorCode: string @index(exact) .
votingPower: int .

market: string @index(exact) .
token: string @index(exact) .
quote: string .
buyBook: string .
sellBook: string .
tick: string .
rate: float .
amount: int .
filled: int .
remaining: int .
orderStatus: string @index(exact) .
orderId: string @index(exact) @upsert .
from: uid @reverse .
txid: string .
expireBlock: int .
hiveId: string .
orderType: string .
tokenAmount: int .

blockBucket: int @index(int) .
open: int .
high: int .
low: int .
close: int .
volumeQuote: int .
volumeToken: int .

category: string @index(exact) .
rawMessage: string .
feedId: string @index(exact) @upsert .

forkId: string @index(exact) @upsert .
tipBlock: int .
tipHash: string @index(exact) .
forkStatus: string @index(exact) .
parentFork: string .
canonical: bool .

checkpointBlock: int @index(int) .
blockHash: string @index(exact) .
stateHash: string .
snapshotHandle: string .

grantor: uid .
grantee: uid .
grantKey: string @index(exact) @upsert .
delegationKey: string @index(exact) @upsert .
statsKey: string @index(exact) @upsert .
statsData: string .
report: string .
domain: string .
bidRate: int .
strikes: int .
providers: string .
profferData: string .
deletedPath: string .

type Account {
	username
	larynxBalance
	spkBalance
	spkbBalance
	spkPower
	brocaBalance
	broca
	brocaAmount
	brocaLastUpdate
	brocaPower
	claimableLarynx
	claimableBroca
	claimableSpk
	liquidBroca
	storageBroca
	validatorBroca
	noMention
	power
	powerGranted
	powerGranting
	spkVote
	spkVoteChoices
	contracts
	publicKey
	authorityData
	lastUpdateBlock
}

type StorageContract {
	contractId
	purchaser
	owner
	status
	statusText
	authorized
	broker
	contractPower
	refunded
	utilized
	verified
	nodeTotal
	fileCount
	isUnderstored
	expiresBlock
	expiresChronId
	metadata
	autoRenew
	blockNumber
	encryptionKeys
	storageNodes
	extensions
}

type ContractFile {
	cid
	size
	name
	extension
	mimeType
	flags
	license
	labels
	thumbnail
	path
	contract
	contractBlockNumber
}

type Path {
	owner
	fullPath
	pathName
	pathType
	itemCount
	parent
	children
	currentFile
	newestBlockNumber
}

type EncryptionKey {
	contract
	sharedWith
	encryptedKey
	keyType
}

type Service {
	provider
	serviceType
	api
	enabled
	memo
	ipfsId
	cost
}

type Validator {
	validatorCode
	owner
	votingPower
}

type DexMarket {
	market
	token
	quote
}

type DexOrder {
	orderId
	market
	rate
	amount
	filled
	remaining
	orderStatus
	from
	txid
	expireBlock
	hiveId
	orderType
	tokenAmount
	blockNumber
}

type OHLCData {
	market
	blockBucket
	open
	high
	low
	close
	volumeQuote
	volumeToken
}

type Transaction {
	feedId
	category
	rawMessage
	blockNumber
	amount
	token
	from
	owner
}

type Fork {
	forkId
	tipBlock
	tipHash
	forkStatus
	parentFork
	canonical
}

type Checkpoint {
	checkpointBlock
	blockHash
	forkId
	stateHash
	snapshotHandle
}

type PowerGrant {
	grantKey
	grantor
	grantee
	amount
	blockNumber
}

type StorageNodeValidation {
	contract
	owner
	nodeSlot
}

type ContractExtension {
	contract
	paidBy
	amount
	startBlock
	endBlock
}

type OrderCancellation {
	orderId
	market
	blockNumber
}

type POWReport {
	owner
	report
	blockNumber
}

type NodeMarketBid {
	owner
	domain
	bidRate
	strikes
	report
	blockNumber
}

type ServiceList {
	serviceType
	providers
	blockNumber
}

type Proffer {
	owner
	profferData
	blockNumber
}

type StatsData {
	statsKey
	statsData
	blockNumber
}

type Delegation {
	delegationKey
	from
	owner
	amount
	blockNumber
}

type StateDeletion {
	deletedPath
	blockNumber
}
`
