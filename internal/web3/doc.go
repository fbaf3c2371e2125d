// Package web3 houses blockchain connectivity utilities, including signer
// abstractions, RPC clients, and multi-chain configuration helpers. It lets
// the agent talk to EVM networks such as Ethereum and Polygon for balance
// queries, contract calls, event subscriptions, and transaction receipts.
package web3
