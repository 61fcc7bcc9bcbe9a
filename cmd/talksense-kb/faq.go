package main

import "github.com/talksense-ai/rag-engine/internal/vectorindex"

// faqCorpus returns the built-in support knowledge base used to bootstrap a
// fresh index.
func faqCorpus() []vectorindex.Document {
	return []vectorindex.Document{
		{
			ID:       "faq_1",
			Text:     "How do I reset my password? To reset your password, click 'Forgot Password' on the login page, enter your email, and follow the instructions sent to your inbox.",
			Metadata: map[string]string{"category": "account", "type": "faq"},
		},
		{
			ID:       "faq_2",
			Text:     "How do I upgrade my account? Go to Settings > Billing and select your desired plan. You'll be able to upgrade or downgrade at any time.",
			Metadata: map[string]string{"category": "billing", "type": "faq"},
		},
		{
			ID:       "faq_3",
			Text:     "What payment methods do you accept? We accept all major credit cards (Visa, Mastercard, American Express), PayPal, and bank transfers.",
			Metadata: map[string]string{"category": "billing", "type": "faq"},
		},
		{
			ID:       "faq_4",
			Text:     "How do I export my chat history? Visit Settings > Data & Privacy and click 'Export Chats'. Your data will be available as a JSON file.",
			Metadata: map[string]string{"category": "privacy", "type": "faq"},
		},
		{
			ID:       "faq_5",
			Text:     "Can I delete my account? Yes, go to Settings > Account > Delete Account. This will permanently remove all your data.",
			Metadata: map[string]string{"category": "account", "type": "faq"},
		},
		{
			ID:       "guide_1",
			Text:     "Getting started with TalkSense AI. First, create an account. Then, create a new chat session. You can ask any question and TalkSense will provide intelligent responses using semantic understanding.",
			Metadata: map[string]string{"category": "getting_started", "type": "guide"},
		},
		{
			ID:       "guide_2",
			Text:     "Understanding chat sessions. Each session is a separate conversation thread. You can have multiple sessions for different topics. Sessions maintain full conversation history for context.",
			Metadata: map[string]string{"category": "features", "type": "guide"},
		},
		{
			ID:       "guide_3",
			Text:     "Rate and provide feedback. After each response, you can rate the answer from 1-5 stars. Your feedback helps us improve the AI model.",
			Metadata: map[string]string{"category": "features", "type": "guide"},
		},
		{
			ID:       "tech_1",
			Text:     "TalkSense AI uses advanced NLP. We combine semantic understanding (text embeddings) with intelligent reasoning (large language models) to provide context-aware responses.",
			Metadata: map[string]string{"category": "technology", "type": "docs"},
		},
		{
			ID:       "tech_2",
			Text:     "How semantic search works. When you ask a question, we convert it to a semantic vector. We then search our knowledge base for documents with similar meaning, not just keyword matches.",
			Metadata: map[string]string{"category": "technology", "type": "docs"},
		},
	}
}
